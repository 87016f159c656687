package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

const fileColumns = "id, book_id, scholar_id, name, location, size, duration, type, uid, downloads, status, created_by, created_at"

type FileRepo struct{ DB *sqlx.DB }

func NewFileRepo(db *sqlx.DB) *FileRepo { return &FileRepo{DB: db} }

// GetActiveByID returns the file only when its status is active.
func (r *FileRepo) GetActiveByID(ctx context.Context, id uint64) (model.File, error) {
	var f model.File
	err := r.DB.GetContext(ctx, &f,
		"SELECT "+fileColumns+" FROM tbl_files WHERE id = ? AND status = 'active'", id)
	return f, notFound(err)
}

func (r *FileRepo) GetByID(ctx context.Context, id uint64) (model.File, error) {
	var f model.File
	err := r.DB.GetContext(ctx, &f, "SELECT "+fileColumns+" FROM tbl_files WHERE id = ?", id)
	return f, notFound(err)
}

func (r *FileRepo) Create(ctx context.Context, f model.File) (model.File, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO tbl_files (book_id, scholar_id, name, location, size, duration, type, uid, status, created_by)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.BookID, f.ScholarID, f.Name, f.Location, f.Size, f.Duration, f.ContentType, f.UID, f.Status, f.CreatedBy)
	if err != nil {
		if isMissingReference(err) {
			return model.File{}, ErrReferenceMissing
		}
		return model.File{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.File{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// Move re-parents a file under another book (and that book's scholar).
func (r *FileRepo) Move(ctx context.Context, id, bookID, scholarID uint64) (model.File, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE tbl_files SET book_id = ?, scholar_id = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		bookID, scholarID, id)
	if err != nil {
		if isMissingReference(err) {
			return model.File{}, ErrReferenceMissing
		}
		return model.File{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.File{}, err
	} else if n == 0 {
		return model.File{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// IncrementDownloads bumps the counter by one in a single statement.
func (r *FileRepo) IncrementDownloads(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE tbl_files SET downloads = downloads + 1 WHERE id = ?", id)
	return err
}

// Stats aggregates the counter and the audit trail of one file.
func (r *FileRepo) Stats(ctx context.Context, id uint64) (model.FileStats, error) {
	var s model.FileStats
	err := r.DB.GetContext(ctx, &s, `
		SELECT f.id AS file_id, f.downloads,
		       COUNT(l.id) AS log_count,
		       COUNT(DISTINCT l.user_id) AS unique_users,
		       MAX(l.downloaded_at) AS last_downloaded_at
		FROM tbl_files f
		LEFT JOIN tbl_download_logs l ON l.file_id = f.id
		WHERE f.id = ?
		GROUP BY f.id, f.downloads`, id)
	return s, notFound(err)
}
