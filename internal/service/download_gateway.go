package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/metrics"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/queue"
	"github.com/iliyamo/sunnah-audio/internal/repository"
)

const defaultContentType = "application/octet-stream"

// DownloadRequest describes one download attempt.
type DownloadRequest struct {
	Caller    model.Identity
	FileID    uint64
	IP        string
	UserAgent string
}

// Download is an opened file.  The caller streams Body, must close it and
// calls Record once it knows the whole file is being delivered.
type Download struct {
	File        model.File
	Body        io.ReadSeekCloser
	Size        int64
	ContentType string
	Filename    string
	ModTime     time.Time

	record func(context.Context)
	once   sync.Once
}

// Record meters the download: one audit row and one counter increment.
// Only the first call has any effect.
func (d *Download) Record(ctx context.Context) {
	if d.record == nil {
		return
	}
	d.once.Do(func() { d.record(ctx) })
}

// DownloadGateway checks, meters and opens file downloads.
type DownloadGateway struct {
	files      FileStore
	logs       DownloadLogStore
	policy     DownloadAuthorizer
	events     EventPublisher
	uploadsDir string
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func NewDownloadGateway(files FileStore, logs DownloadLogStore, policy DownloadAuthorizer, events EventPublisher,
	uploadsDir string, m *metrics.Metrics, log *zap.Logger,
) *DownloadGateway {
	return &DownloadGateway{
		files:      files,
		logs:       logs,
		policy:     policy,
		events:     events,
		uploadsDir: uploadsDir,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// authorize resolves an active file and checks the caller may take it.
func (g *DownloadGateway) authorize(ctx context.Context, req DownloadRequest) (model.File, *model.SubscriptionWithPlan, error) {
	f, err := g.files.GetActiveByID(ctx, req.FileID)
	if errors.Is(err, repository.ErrNotFound) {
		g.metrics.ObserveDownload("not_found")
		return model.File{}, nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return model.File{}, nil, apperr.Internal("Failed to load file", err)
	}

	ok, sub, err := g.policy.CanDownload(ctx, req.Caller, f.ScholarID)
	if err != nil {
		return model.File{}, nil, err
	}
	if !ok {
		g.metrics.ObserveDownload("forbidden")
		return model.File{}, nil, apperr.Forbidden("You need an active subscription or scholar access to download this file")
	}
	return f, sub, nil
}

// Open resolves the file, checks permission and opens it on disk.  Nothing
// is metered until the returned Download is recorded, so range and
// conditional requests for the same file cost nothing.
func (g *DownloadGateway) Open(ctx context.Context, req DownloadRequest) (*Download, error) {
	f, sub, err := g.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(g.diskPath(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			g.metrics.ObserveDownload("missing")
			g.log.Warn("file missing on disk", zap.Uint64("file_id", f.ID))
			return nil, apperr.NotFound("File not found")
		}
		return nil, apperr.Internal("Failed to open file", err)
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, apperr.Internal("Failed to open file", err)
	}

	size := f.Size
	if size <= 0 || size != st.Size() {
		size = st.Size()
	}
	ct := defaultContentType
	if f.ContentType != nil && *f.ContentType != "" {
		ct = *f.ContentType
	}
	return &Download{
		File:        f,
		Body:        fh,
		Size:        size,
		ContentType: ct,
		Filename:    displayName(f),
		ModTime:     st.ModTime(),
		record: func(ctx context.Context) {
			entry, logID, err := g.writeLog(ctx, req, f, sub)
			if err != nil {
				g.log.Warn("download log not written", zap.Uint64("file_id", f.ID), zap.Error(err))
			}
			g.count(ctx, f)
			g.announce(ctx, req, f, entry, logID)
			g.metrics.ObserveDownload("ok")
		},
	}, nil
}

// Track records a download the client performed itself, without serving
// any bytes.  Unlike Open, a failed audit write is reported.
func (g *DownloadGateway) Track(ctx context.Context, req DownloadRequest) (time.Time, error) {
	f, sub, err := g.authorize(ctx, req)
	if err != nil {
		return time.Time{}, err
	}
	entry, logID, err := g.writeLog(ctx, req, f, sub)
	if err != nil {
		return time.Time{}, apperr.Internal("Failed to track download", err)
	}
	g.count(ctx, f)
	g.announce(ctx, req, f, entry, logID)
	g.metrics.ObserveDownload("tracked")
	return entry.DownloadedAt, nil
}

// diskPath confines the stored location to the uploads directory.
func (g *DownloadGateway) diskPath(f model.File) string {
	return filepath.Join(g.uploadsDir, filepath.Base(filepath.Clean(f.Location)))
}

func displayName(f model.File) string {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = filepath.Base(f.Location)
	}
	if filepath.Ext(name) == "" {
		name += filepath.Ext(f.Location)
	}
	return name
}

func (g *DownloadGateway) writeLog(ctx context.Context, req DownloadRequest, f model.File,
	sub *model.SubscriptionWithPlan,
) (model.DownloadLog, uint64, error) {
	entry := model.DownloadLog{
		UserID:       req.Caller.UserID,
		FileID:       f.ID,
		IP:           optional(req.IP),
		UserAgent:    optional(req.UserAgent),
		DownloadedAt: g.now().UTC(),
	}
	if sub != nil {
		id := sub.ID
		entry.SubscriptionID = &id
	}
	logID, err := g.logs.Insert(ctx, entry)
	return entry, logID, err
}

func (g *DownloadGateway) count(ctx context.Context, f model.File) {
	if err := g.files.IncrementDownloads(ctx, f.ID); err != nil {
		g.log.Warn("download counter not incremented", zap.Uint64("file_id", f.ID), zap.Error(err))
	}
}

// announce hands the event to the publisher, which never blocks.
func (g *DownloadGateway) announce(ctx context.Context, req DownloadRequest, f model.File, entry model.DownloadLog, logID uint64) {
	if g.events == nil {
		return
	}
	err := g.events.PublishDownloaded(ctx, queue.DownloadRecordedEvent{
		LogID:          logID,
		UserID:         req.Caller.UserID,
		FileID:         f.ID,
		FileName:       f.Name,
		BookID:         f.BookID,
		ScholarID:      f.ScholarID,
		SubscriptionID: entry.SubscriptionID,
		IP:             req.IP,
		UserAgent:      req.UserAgent,
		DownloadedAt:   entry.DownloadedAt.Format(time.RFC3339),
	})
	if err != nil {
		g.log.Warn("download event dropped", zap.Uint64("file_id", f.ID), zap.Error(err))
	}
}

// History returns one page of the caller's downloads and the total.
func (g *DownloadGateway) History(ctx context.Context, userID uint64, page Page) ([]model.DownloadHistoryItem, int, error) {
	page = page.Normalize()
	rows, total, err := g.logs.ListByUser(ctx, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("Failed to load downloads", err)
	}
	return rows, total, nil
}

// Stats returns the counters for one file.
func (g *DownloadGateway) Stats(ctx context.Context, fileID uint64) (model.FileStats, error) {
	st, err := g.files.Stats(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.FileStats{}, apperr.NotFound("File not found")
	}
	if err != nil {
		return model.FileStats{}, apperr.Internal("Failed to load file stats", err)
	}
	return st, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
