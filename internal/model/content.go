package model

import "time"

const (
	ContentActive   = "active"
	ContentInactive = "inactive"
)

// Scholar mirrors tbl_scholars; only the columns the access paths read.
type Scholar struct {
	ID     uint64 `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Status string `db:"status" json:"status"`
}

// Book mirrors tbl_books.
type Book struct {
	ID        uint64    `db:"id" json:"id"`
	ScholarID uint64    `db:"scholar_id" json:"scholar_id"`
	Name      string    `db:"name" json:"name"`
	About     *string   `db:"about" json:"about"`
	Image     *string   `db:"image" json:"image"`
	Status    string    `db:"status" json:"status"`
	CreatedBy *uint64   `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// File mirrors tbl_files.  Downloads only moves through the download path.
type File struct {
	ID          uint64    `db:"id" json:"id"`
	BookID      uint64    `db:"book_id" json:"book_id"`
	ScholarID   uint64    `db:"scholar_id" json:"scholar_id"`
	Name        string    `db:"name" json:"name"`
	Location    string    `db:"location" json:"-"`
	Size        int64     `db:"size" json:"size"`
	Duration    string    `db:"duration" json:"duration"`
	ContentType *string   `db:"type" json:"type"`
	UID         string    `db:"uid" json:"uid"`
	Downloads   uint64    `db:"downloads" json:"downloads"`
	Status      string    `db:"status" json:"status"`
	CreatedBy   *uint64   `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DownloadLog mirrors tbl_download_logs.  Rows are append-only.
type DownloadLog struct {
	ID             uint64    `db:"id" json:"id"`
	UserID         uint64    `db:"user_id" json:"user_id"`
	SubscriptionID *uint64   `db:"subscription_id" json:"subscription_id"`
	FileID         uint64    `db:"file_id" json:"file_id"`
	IP             *string   `db:"download_ip" json:"download_ip"`
	UserAgent      *string   `db:"user_agent" json:"user_agent"`
	DownloadedAt   time.Time `db:"downloaded_at" json:"downloaded_at"`
}

// DownloadHistoryItem is a caller's download joined with the file name.
type DownloadHistoryItem struct {
	DownloadLog
	FileName string `db:"file_name" json:"file_name"`
	BookID   uint64 `db:"book_id" json:"book_id"`
}

// FileStats aggregates the audit trail of one file.
type FileStats struct {
	FileID         uint64     `db:"file_id" json:"file_id"`
	Downloads      uint64     `db:"downloads" json:"downloads"`
	LogCount       uint64     `db:"log_count" json:"log_count"`
	UniqueUsers    uint64     `db:"unique_users" json:"unique_users"`
	LastDownloaded *time.Time `db:"last_downloaded_at" json:"last_downloaded_at"`
}
