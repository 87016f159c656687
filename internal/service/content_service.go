package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/repository"
)

// MaxUploadBytes caps a single audio upload.
const MaxUploadBytes int64 = 100 << 20

const audioContentType = "audio/mpeg"

var unsafeStem = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ContentService performs the scholar-scoped content writes: books,
// uploads and file moves.  Every write goes through the access policy.
type ContentService struct {
	books      BookStore
	files      FileStore
	policy     ContentAuthorizer
	uploadsDir string
	log        *zap.Logger
	newID      func() string
}

func NewContentService(books BookStore, files FileStore, policy ContentAuthorizer, uploadsDir string, log *zap.Logger) *ContentService {
	return &ContentService{
		books:      books,
		files:      files,
		policy:     policy,
		uploadsDir: uploadsDir,
		log:        log,
		newID:      shortID,
	}
}

// shortID is five hex characters of a random UUID.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}

type BookInput struct {
	ScholarID uint64
	Name      string
	About     *string
	Image     *string
}

func (s *ContentService) CreateBook(ctx context.Context, caller model.Identity, in BookInput) (model.Book, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.ScholarID == 0 || in.Name == "" {
		return model.Book{}, apperr.Validation("scholar_id and name are required")
	}
	if err := s.policy.Authorize(ctx, caller, in.ScholarID, model.OpCreateBook); err != nil {
		return model.Book{}, err
	}
	if err := s.scholarExists(ctx, in.ScholarID); err != nil {
		return model.Book{}, err
	}

	createdBy := caller.UserID
	b, err := s.books.Create(ctx, model.Book{
		ScholarID: in.ScholarID,
		Name:      in.Name,
		About:     in.About,
		Image:     in.Image,
		Status:    model.ContentActive,
		CreatedBy: &createdBy,
	})
	if err != nil {
		return model.Book{}, bookWriteError(err)
	}
	return b, nil
}

type BookUpdate struct {
	ScholarID *uint64
	Name      *string
	About     *string
	Image     *string
}

// UpdateBook edits a book; changing its scholar requires access to both
// scholars and carries the book's files along.
func (s *ContentService) UpdateBook(ctx context.Context, caller model.Identity, id uint64, in BookUpdate) (model.Book, error) {
	b, err := s.books.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Book{}, apperr.NotFound("Book not found")
	}
	if err != nil {
		return model.Book{}, apperr.Internal("Failed to load book", err)
	}

	target := b.ScholarID
	if in.ScholarID != nil && *in.ScholarID != 0 {
		target = *in.ScholarID
	}
	if err := s.policy.AuthorizeMove(ctx, caller, model.OpUpdateBook, b.ScholarID, target); err != nil {
		return model.Book{}, err
	}
	if target != b.ScholarID {
		if err := s.scholarExists(ctx, target); err != nil {
			return model.Book{}, err
		}
		b.ScholarID = target
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return model.Book{}, apperr.Validation("name cannot be empty")
		}
		b.Name = name
	}
	if in.About != nil {
		b.About = in.About
	}
	if in.Image != nil {
		b.Image = in.Image
	}

	out, err := s.books.Update(ctx, b)
	if err != nil {
		return model.Book{}, bookWriteError(err)
	}
	return out, nil
}

func (s *ContentService) scholarExists(ctx context.Context, id uint64) error {
	_, err := s.books.GetScholar(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Scholar not found")
	}
	if err != nil {
		return apperr.Internal("Failed to load scholar", err)
	}
	return nil
}

func bookWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict("A book with this name already exists for this scholar")
	case errors.Is(err, repository.ErrReferenceMissing):
		return apperr.NotFound("Scholar not found")
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("Book not found")
	}
	return apperr.Internal("Failed to save book", err)
}

// UploadInput is one multipart audio part.
type UploadInput struct {
	Filename string // as sent by the client
	Size     int64  // declared size; -1 if unknown
	Body     io.Reader
	Name     string // display name; defaults to Filename
	Duration string
}

// UploadFile stores an mp3 under the uploads directory as
// <stem>_<5-char id>.mp3 and records it under the book.
func (s *ContentService) UploadFile(ctx context.Context, caller model.Identity, bookID uint64, in UploadInput) (model.File, error) {
	book, err := s.books.GetByID(ctx, bookID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.File{}, apperr.NotFound("Book not found")
	}
	if err != nil {
		return model.File{}, apperr.Internal("Failed to load book", err)
	}
	if err := s.policy.Authorize(ctx, caller, book.ScholarID, model.OpUploadFile); err != nil {
		return model.File{}, err
	}

	base := filepath.Base(in.Filename)
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".mp3" {
		return model.File{}, apperr.Validation("Only .mp3 files are allowed")
	}
	if in.Size > MaxUploadBytes {
		return model.File{}, apperr.Validation("File exceeds the 100MB limit")
	}

	uid := s.newID()
	stored := fmt.Sprintf("%s_%s.mp3", storedStem(base), uid)
	size, err := s.writeUpload(stored, in.Body)
	if err != nil {
		return model.File{}, err
	}

	display := strings.TrimSpace(in.Name)
	if display == "" {
		display = base
	}
	ct := audioContentType
	createdBy := caller.UserID
	f, err := s.files.Create(ctx, model.File{
		BookID:      book.ID,
		ScholarID:   book.ScholarID,
		Name:        display,
		Location:    stored,
		Size:        size,
		Duration:    in.Duration,
		ContentType: &ct,
		UID:         uid,
		Status:      model.ContentActive,
		CreatedBy:   &createdBy,
	})
	if err != nil {
		_ = os.Remove(filepath.Join(s.uploadsDir, stored))
		if errors.Is(err, repository.ErrReferenceMissing) {
			return model.File{}, apperr.NotFound("Book not found")
		}
		return model.File{}, apperr.Internal("Failed to save file record", err)
	}
	s.log.Info("file uploaded", zap.Uint64("file_id", f.ID), zap.Uint64("book_id", book.ID), zap.Int64("size", size))
	return f, nil
}

func storedStem(base string) string {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeStem.ReplaceAllString(stem, "_"), "._")
	if stem == "" {
		stem = "audio"
	}
	if len(stem) > 100 {
		stem = stem[:100]
	}
	return stem
}

func (s *ContentService) writeUpload(name string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return 0, apperr.Internal("Failed to prepare uploads directory", err)
	}
	path := filepath.Join(s.uploadsDir, name)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, apperr.Internal("Failed to store file", err)
	}
	n, err := io.Copy(out, io.LimitReader(body, MaxUploadBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, apperr.Internal("Failed to store file", err)
	}
	if n > MaxUploadBytes {
		_ = os.Remove(path)
		return 0, apperr.Validation("File exceeds the 100MB limit")
	}
	return n, nil
}

// MoveFile re-parents a file under another book, possibly of another
// scholar.
func (s *ContentService) MoveFile(ctx context.Context, caller model.Identity, fileID, bookID uint64) (model.File, error) {
	if bookID == 0 {
		return model.File{}, apperr.Validation("book_id is required")
	}
	f, err := s.files.GetByID(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.File{}, apperr.NotFound("File not found")
	}
	if err != nil {
		return model.File{}, apperr.Internal("Failed to load file", err)
	}
	book, err := s.books.GetByID(ctx, bookID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.File{}, apperr.NotFound("Target book not found")
	}
	if err != nil {
		return model.File{}, apperr.Internal("Failed to load book", err)
	}
	if err := s.policy.AuthorizeMove(ctx, caller, model.OpMoveFile, f.ScholarID, book.ScholarID); err != nil {
		return model.File{}, err
	}

	out, err := s.files.Move(ctx, f.ID, book.ID, book.ScholarID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.File{}, apperr.NotFound("File not found")
	case errors.Is(err, repository.ErrReferenceMissing):
		return model.File{}, apperr.NotFound("Target book not found")
	case err != nil:
		return model.File{}, apperr.Internal("Failed to move file", err)
	}
	return out, nil
}
