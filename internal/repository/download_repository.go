package repository

import (
	"context"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

// DownloadRepo appends to and reads tbl_download_logs.
type DownloadRepo struct{ DB *sqlx.DB }

func NewDownloadRepo(db *sqlx.DB) *DownloadRepo { return &DownloadRepo{DB: db} }

// Column widths of download_ip and user_agent, in characters.
const (
	ipWidth        = 64
	userAgentWidth = 512
)

// Insert appends one audit row.  Client supplied IP and user agent strings
// are cut to their column widths so strict SQL mode cannot reject the row.
func (r *DownloadRepo) Insert(ctx context.Context, l model.DownloadLog) (uint64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO tbl_download_logs (user_id, subscription_id, file_id, download_ip, user_agent, downloaded_at)
		VALUES (?,?,?,?,?,?)`,
		l.UserID, l.SubscriptionID, l.FileID, clip(l.IP, ipWidth), clip(l.UserAgent, userAgentWidth), l.DownloadedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ListByUser returns one page of the user's downloads, newest first, plus
// the total count.
func (r *DownloadRepo) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.DownloadHistoryItem, int, error) {
	var total int
	if err := r.DB.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM tbl_download_logs WHERE user_id = ?", userID); err != nil {
		return nil, 0, err
	}
	out := []model.DownloadHistoryItem{}
	err := r.DB.SelectContext(ctx, &out, `
		SELECT l.id, l.user_id, l.subscription_id, l.file_id, l.download_ip, l.user_agent, l.downloaded_at,
		       f.name AS file_name, f.book_id
		FROM tbl_download_logs l
		JOIN tbl_files f ON f.id = l.file_id
		WHERE l.user_id = ?
		ORDER BY l.downloaded_at DESC, l.id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func clip(s *string, width int) *string {
	if s == nil || utf8.RuneCountInString(*s) <= width {
		return s
	}
	r := []rune(*s)
	out := string(r[:width])
	return &out
}
