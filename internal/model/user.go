package model

import "time"

// Roles stored in tbl_users.role.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// User statuses.  Disabled rows are retained for audit but never
// authenticate.
const (
	UserActive   = "active"
	UserDisabled = "disabled"
)

// User mirrors a row of tbl_users.
type User struct {
	ID           uint64    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	Address      *string   `db:"address"`
	Phone        *string   `db:"phone"`
	Role         string    `db:"role"`
	PasswordHash string    `db:"password"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (u User) Active() bool { return u.Status == UserActive }

// Profile is the public projection of a user; it never carries the hash.
type Profile struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Address   *string   `json:"address"`
	Phone     *string   `json:"phone"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Address:   u.Address,
		Phone:     u.Phone,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Identity is the caller resolved from a bearer token for one request.
type Identity struct {
	UserID uint64
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
