package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

// AccessRepo manages tbl_access, the per-scholar write ACL.
type AccessRepo struct{ DB *sqlx.DB }

func NewAccessRepo(db *sqlx.DB) *AccessRepo { return &AccessRepo{DB: db} }

// Grant upserts the (user, scholar) row.  A missing user or scholar yields
// ErrReferenceMissing.
func (r *AccessRepo) Grant(ctx context.Context, userID, scholarID, grantedBy uint64) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO tbl_access (user_id, scholar_id, created_by)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE created_by = VALUES(created_by), updated_at = UTC_TIMESTAMP()`,
		userID, scholarID, grantedBy)
	if isMissingReference(err) {
		return ErrReferenceMissing
	}
	return err
}

// Revoke deletes the (user, scholar) row; ErrNotFound if there was none.
func (r *AccessRepo) Revoke(ctx context.Context, userID, scholarID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM tbl_access WHERE user_id = ? AND scholar_id = ?", userID, scholarID)
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

// Has reports whether an active user holds an ACL row for the scholar.
func (r *AccessRepo) Has(ctx context.Context, userID, scholarID uint64) (bool, error) {
	var ok bool
	err := r.DB.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM tbl_access a
			JOIN tbl_users u ON u.id = a.user_id
			WHERE a.user_id = ? AND a.scholar_id = ? AND u.status = 'active'
		)`, userID, scholarID)
	return ok, err
}

// ScholarsFor lists the active scholars the user has ACL rows for.
func (r *AccessRepo) ScholarsFor(ctx context.Context, userID uint64) ([]model.ScholarPermission, error) {
	out := []model.ScholarPermission{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT s.id AS scholar_id, s.name AS scholar_name
		FROM tbl_access a
		JOIN tbl_scholars s ON s.id = a.scholar_id
		WHERE a.user_id = ? AND s.status = 'active'
		ORDER BY s.name ASC`, userID)
	return out, err
}

// ListAll returns every ACL row with the user email and scholar name.
func (r *AccessRepo) ListAll(ctx context.Context) ([]model.AccessListing, error) {
	out := []model.AccessListing{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT a.id, a.user_id, a.scholar_id, a.created_by, a.created_at, a.updated_at,
		       u.email AS user_email, s.name AS scholar_name
		FROM tbl_access a
		JOIN tbl_users u ON u.id = a.user_id
		JOIN tbl_scholars s ON s.id = a.scholar_id
		ORDER BY a.created_at DESC, a.id DESC`)
	return out, err
}
