package handler

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/service"
)

// Downloads is satisfied by *service.DownloadGateway.
type Downloads interface {
	Open(ctx context.Context, req service.DownloadRequest) (*service.Download, error)
	Track(ctx context.Context, req service.DownloadRequest) (time.Time, error)
	History(ctx context.Context, userID uint64, page service.Page) ([]model.DownloadHistoryItem, int, error)
	Stats(ctx context.Context, fileID uint64) (model.FileStats, error)
}

// Content is satisfied by *service.ContentService.
type Content interface {
	CreateBook(ctx context.Context, caller model.Identity, in service.BookInput) (model.Book, error)
	UpdateBook(ctx context.Context, caller model.Identity, id uint64, in service.BookUpdate) (model.Book, error)
	UploadFile(ctx context.Context, caller model.Identity, bookID uint64, in service.UploadInput) (model.File, error)
	MoveFile(ctx context.Context, caller model.Identity, fileID, bookID uint64) (model.File, error)
}

// FileHandler serves /api/v1/files.
type FileHandler struct {
	downloads Downloads
	content   Content
	log       *zap.Logger
}

func NewFileHandler(downloads Downloads, content Content, log *zap.Logger) *FileHandler {
	return &FileHandler{downloads: downloads, content: content, log: log}
}

type moveReq struct {
	BookID uint64 `json:"book_id"`
}

// Download streams the file as an attachment.  Only a response that
// delivers the whole file is recorded: range requests for a slice of it and
// 304 revalidations are served but not counted.
func (h *FileHandler) Download(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	fileID, err := pathID(c, "id", "file")
	if err != nil {
		return err
	}
	req := c.Request()
	ctx, cancel := storeContext(c)
	defer cancel()
	d, err := h.downloads.Open(ctx, downloadRequest(c, id, fileID))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Body.Close(); cerr != nil {
			h.log.Warn("close download", zap.Uint64("file_id", fileID), zap.Error(cerr))
		}
	}()

	res := c.Response()
	res.Before(func() {
		if req.Method == http.MethodHead || !wholeFile(res.Status, res.Header(), d.Size) {
			return
		}
		rctx, rcancel := storeContext(c)
		defer rcancel()
		d.Record(rctx)
	})

	hdr := res.Header()
	hdr.Set(echo.HeaderContentDisposition, attachment(d.Filename))
	hdr.Set(echo.HeaderContentType, d.ContentType)
	// ServeContent sets Content-Length and answers Range requests.
	http.ServeContent(res, req, d.Filename, d.ModTime, d.Body)
	return nil
}

// Track records a download the client fetched some other way.
func (h *FileHandler) Track(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	fileID, err := pathID(c, "id", "file")
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	at, err := h.downloads.Track(ctx, downloadRequest(c, id, fileID))
	if err != nil {
		return err
	}
	return ok(c, echo.Map{
		"file_id":    fileID,
		"user_id":    id.UserID,
		"tracked_at": at,
	}, "Download tracked successfully")
}

func downloadRequest(c echo.Context, id model.Identity, fileID uint64) service.DownloadRequest {
	return service.DownloadRequest{
		Caller:    id,
		FileID:    fileID,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// wholeFile reports whether a response with this status and headers
// carries every byte of a file of the given size.
func wholeFile(status int, hdr http.Header, size int64) bool {
	switch status {
	case http.StatusOK:
		return true
	case http.StatusPartialContent:
		return size > 0 && hdr.Get("Content-Range") == fmt.Sprintf("bytes 0-%d/%d", size-1, size)
	}
	return false
}

// attachment quotes ASCII names directly and falls back to the RFC 2231
// form for anything else.
func attachment(name string) string {
	for _, r := range name {
		if r < 0x20 || r > 0x7e {
			return mime.FormatMediaType("attachment", map[string]string{"filename": name})
		}
	}
	return `attachment; filename="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
}

// Upload accepts a multipart "file" part for the book in :id.
func (h *FileHandler) Upload(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	bookID, err := pathID(c, "id", "book")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("No file uploaded")
	}
	src, err := fh.Open()
	if err != nil {
		return apperr.Internal("Failed to read upload", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(c.Request().Context(), uploadTimeout)
	defer cancel()
	f, err := h.content.UploadFile(ctx, id, bookID, service.UploadInput{
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     src,
		Name:     c.FormValue("name"),
		Duration: c.FormValue("duration"),
	})
	if err != nil {
		return err
	}
	return created(c, f, "File uploaded successfully")
}

func (h *FileHandler) Move(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	fileID, err := pathID(c, "id", "file")
	if err != nil {
		return err
	}
	var req moveReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	f, err := h.content.MoveFile(ctx, id, fileID, req.BookID)
	if err != nil {
		return err
	}
	return ok(c, f, "File moved successfully")
}

func (h *FileHandler) Stats(c echo.Context) error {
	fileID, err := pathID(c, "id", "file")
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	st, err := h.downloads.Stats(ctx, fileID)
	if err != nil {
		return err
	}
	return ok(c, st, "")
}

func (h *FileHandler) MyDownloads(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	page := pageFrom(c)
	ctx, cancel := storeContext(c)
	defer cancel()
	rows, total, err := h.downloads.History(ctx, id.UserID, page)
	if err != nil {
		return err
	}
	return paged(c, rows, page, total)
}
