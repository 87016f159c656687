// Package queue defines the message payloads exchanged over the broker,
// together with the publisher and the background consumer.
package queue

// DownloadQueue is the durable queue download events are routed to.
const DownloadQueue = "file.downloaded"

// DownloadRecordedEvent is published after a download has been metered.
// It carries enough for consumers to log or aggregate without reading the
// primary database.
type DownloadRecordedEvent struct {
	LogID          uint64  `json:"log_id,omitempty"`
	UserID         uint64  `json:"user_id"`
	FileID         uint64  `json:"file_id"`
	FileName       string  `json:"file_name"`
	BookID         uint64  `json:"book_id"`
	ScholarID      uint64  `json:"scholar_id"`
	SubscriptionID *uint64 `json:"subscription_id,omitempty"`
	IP             string  `json:"ip"`
	UserAgent      string  `json:"user_agent"`
	DownloadedAt   string  `json:"downloaded_at"` // RFC3339, UTC
}
