package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

const userColumns = "id, name, email, address, phone, role, password, status, created_at, updated_at"

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail is the canonical form stored and looked up.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts the user and returns its id.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO tbl_users (name, email, address, phone, role, password, status) VALUES (?,?,?,?,?,?,?)",
		u.Name, NormalizeEmail(u.Email), u.Address, u.Phone, u.Role, u.PasswordHash, u.Status)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email regardless of status.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM tbl_users WHERE email = ? LIMIT 1", NormalizeEmail(email))
	return u, notFound(err)
}

// GetByID fetches a user by id regardless of status.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM tbl_users WHERE id = ? LIMIT 1", id)
	return u, notFound(err)
}

// GetActiveByID is GetByID restricted to active accounts; a disabled user is
// reported as ErrNotFound.
func (r *UserRepo) GetActiveByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM tbl_users WHERE id = ? AND status = 'active' LIMIT 1", id)
	return u, notFound(err)
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, name string, address, phone *string) error {
	return r.execOne(ctx,
		"UPDATE tbl_users SET name = ?, address = ?, phone = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = 'active'",
		name, address, phone, id)
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return r.execOne(ctx,
		"UPDATE tbl_users SET password = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = 'active'",
		hash, id)
}

func (r *UserRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	return r.execOne(ctx,
		"UPDATE tbl_users SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		status, id)
}

// execOne runs an UPDATE and maps "no row matched" to ErrNotFound.
func (r *UserRepo) execOne(ctx context.Context, q string, args ...interface{}) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
