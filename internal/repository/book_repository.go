package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

const bookColumns = "id, scholar_id, name, about, image, status, created_by, created_at, updated_at"

// BookRepo covers the book writes that go through the access policy.
type BookRepo struct{ DB *sqlx.DB }

func NewBookRepo(db *sqlx.DB) *BookRepo { return &BookRepo{DB: db} }

// GetScholar returns an active scholar.
func (r *BookRepo) GetScholar(ctx context.Context, id uint64) (model.Scholar, error) {
	var s model.Scholar
	err := r.DB.GetContext(ctx, &s,
		"SELECT id, name, status FROM tbl_scholars WHERE id = ? AND status = 'active'", id)
	return s, notFound(err)
}

func (r *BookRepo) GetByID(ctx context.Context, id uint64) (model.Book, error) {
	var b model.Book
	err := r.DB.GetContext(ctx, &b, "SELECT "+bookColumns+" FROM tbl_books WHERE id = ?", id)
	return b, notFound(err)
}

// Create inserts the book; a name already used under the scholar yields
// ErrDuplicate.
func (r *BookRepo) Create(ctx context.Context, b model.Book) (model.Book, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO tbl_books (scholar_id, name, about, image, status, created_by) VALUES (?,?,?,?,?,?)",
		b.ScholarID, b.Name, b.About, b.Image, b.Status, b.CreatedBy)
	if err != nil {
		switch {
		case isDuplicate(err):
			return model.Book{}, ErrDuplicate
		case isMissingReference(err):
			return model.Book{}, ErrReferenceMissing
		}
		return model.Book{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Book{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// Update writes name, about, image and scholar.  Files of the book follow
// it to the new scholar in the same transaction.
func (r *BookRepo) Update(ctx context.Context, b model.Book) (model.Book, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return model.Book{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE tbl_books SET scholar_id = ?, name = ?, about = ?, image = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		b.ScholarID, b.Name, b.About, b.Image, b.ID)
	if err != nil {
		switch {
		case isDuplicate(err):
			return model.Book{}, ErrDuplicate
		case isMissingReference(err):
			return model.Book{}, ErrReferenceMissing
		}
		return model.Book{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Book{}, err
	} else if n == 0 {
		return model.Book{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE tbl_files SET scholar_id = ? WHERE book_id = ? AND scholar_id <> ?",
		b.ScholarID, b.ID, b.ScholarID); err != nil {
		return model.Book{}, err
	}

	var out model.Book
	if err := tx.GetContext(ctx, &out, "SELECT "+bookColumns+" FROM tbl_books WHERE id = ?", b.ID); err != nil {
		return model.Book{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Book{}, err
	}
	committed = true
	return out, nil
}
