package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/service"
)

// deadlines records whether each store call arrived with a deadline.
type deadlines struct {
	mu   sync.Mutex
	seen []bool
}

func (d *deadlines) note(ctx context.Context) {
	_, ok := ctx.Deadline()
	d.mu.Lock()
	d.seen = append(d.seen, ok)
	d.mu.Unlock()
}

func (d *deadlines) all() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.seen...)
}

type stubAuth struct {
	deadlines
	registered service.RegisterInput
	loginErr   error
}

func (s *stubAuth) Register(ctx context.Context, in service.RegisterInput) (model.Profile, error) {
	s.note(ctx)
	s.registered = in
	return model.Profile{ID: 7, Name: in.Name, Email: in.Email, Role: model.RoleUser, Status: model.UserActive}, nil
}

func (s *stubAuth) Login(_ context.Context, email, _ string) (service.LoginResult, error) {
	if s.loginErr != nil {
		return service.LoginResult{}, s.loginErr
	}
	return service.LoginResult{User: model.Profile{ID: 7, Email: email}, Token: "tok"}, nil
}

func (s *stubAuth) Profile(_ context.Context, userID uint64) (model.Profile, error) {
	return model.Profile{ID: userID}, nil
}

func (s *stubAuth) UpdateProfile(_ context.Context, userID uint64, _ service.ProfileUpdate) (model.Profile, error) {
	return model.Profile{ID: userID}, nil
}

func (s *stubAuth) ChangePassword(context.Context, uint64, string, string) error { return nil }
func (s *stubAuth) ForgotPassword(context.Context, string) error                 { return nil }
func (s *stubAuth) Deactivate(context.Context, uint64) error                     { return nil }

func (s *stubAuth) ResetPassword(_ context.Context, _, code, _ string) error {
	if code != "482913" {
		return apperr.OtpInvalid("Invalid or expired OTP. Please request a new one.")
	}
	return nil
}

type grantCall struct{ caller, user, scholar uint64 }

type stubAccess struct {
	mu     sync.Mutex
	grants []grantCall
}

func (s *stubAccess) Grant(_ context.Context, caller model.Identity, userID, scholarID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, grantCall{caller.UserID, userID, scholarID})
	return nil
}

func (s *stubAccess) Revoke(context.Context, model.Identity, uint64, uint64) error {
	return apperr.NotFound("Access entry not found")
}

func (s *stubAccess) Permissions(_ context.Context, caller model.Identity) (model.Permissions, error) {
	return model.Permissions{UserID: caller.UserID, Role: caller.Role}, nil
}

func (s *stubAccess) ListAll(context.Context, model.Identity) ([]model.AccessListing, error) {
	return []model.AccessListing{}, nil
}

type stubSubscriptions struct {
	deadlines
	mu         sync.Mutex
	planCalls  int
	pageSeen   service.Page
	pendingTot int
}

func (s *stubSubscriptions) ListPlans(context.Context) ([]model.SubscriptionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planCalls++
	return []model.SubscriptionPlan{{ID: 3, Name: "Monthly", DurationMonths: 1, Currency: "CFA", IsActive: true}}, nil
}

func (s *stubSubscriptions) CreateIntent(ctx context.Context, userID uint64, in service.IntentInput) (model.SubscriptionWithPlan, error) {
	s.note(ctx)
	if in.TransactionReference == "TX-001" && userID == 42 {
		return model.SubscriptionWithPlan{UserSubscription: model.UserSubscription{
			ID: 1, UserID: userID, PlanID: in.PlanID, Status: model.SubscriptionPending,
			PaymentAmount: in.PaymentAmount, PaymentCurrency: "CFA",
		}}, nil
	}
	return model.SubscriptionWithPlan{}, apperr.Conflict("You already have a pending subscription awaiting verification")
}

func (s *stubSubscriptions) Status(context.Context, uint64) (model.SubscriptionStatus, error) {
	return model.SubscriptionStatus{}, nil
}

func (s *stubSubscriptions) CurrentActive(context.Context, uint64) (*model.SubscriptionWithPlan, error) {
	return nil, nil
}

func (s *stubSubscriptions) ListMine(context.Context, uint64) ([]model.SubscriptionWithPlan, error) {
	return nil, nil
}

func (s *stubSubscriptions) ListPending(_ context.Context, page service.Page) ([]model.PendingSubscription, int, error) {
	s.pageSeen = page
	return []model.PendingSubscription{}, s.pendingTot, nil
}

func (s *stubSubscriptions) Verify(_ context.Context, id uint64, decision string, _ *string) (model.SubscriptionWithPlan, error) {
	return model.SubscriptionWithPlan{UserSubscription: model.UserSubscription{ID: id, Status: decision}}, nil
}

func (s *stubSubscriptions) SweepExpired(context.Context) (int64, error) { return 2, nil }

type readSeekNopCloser struct{ *bytes.Reader }

func (readSeekNopCloser) Close() error { return nil }

type stubDownloads struct {
	deadlines
	mu      sync.Mutex
	reqs    []service.DownloadRequest
	tracked []service.DownloadRequest
	body    []byte
}

func (s *stubDownloads) Open(ctx context.Context, req service.DownloadRequest) (*service.Download, error) {
	s.note(ctx)
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if req.FileID != 100 {
		return nil, apperr.NotFound("File not found")
	}
	if req.Caller.UserID == 99 {
		return nil, apperr.Forbidden("You need an active subscription or scholar access to download this file")
	}
	return &service.Download{
		File:        model.File{ID: 100},
		Body:        readSeekNopCloser{bytes.NewReader(s.body)},
		Size:        int64(len(s.body)),
		ContentType: "audio/mpeg",
		Filename:    "Lecture 1.mp3",
		ModTime:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubDownloads) Track(ctx context.Context, req service.DownloadRequest) (time.Time, error) {
	s.note(ctx)
	if req.Caller.UserID == 99 {
		return time.Time{}, apperr.Forbidden("You need an active subscription or scholar access to download this file")
	}
	s.mu.Lock()
	s.tracked = append(s.tracked, req)
	s.mu.Unlock()
	return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC), nil
}

func (s *stubDownloads) History(context.Context, uint64, service.Page) ([]model.DownloadHistoryItem, int, error) {
	return []model.DownloadHistoryItem{}, 0, nil
}

func (s *stubDownloads) Stats(_ context.Context, fileID uint64) (model.FileStats, error) {
	return model.FileStats{FileID: fileID, Downloads: 5}, nil
}

type stubContent struct {
	uploaded    service.UploadInput
	uploadBytes []byte
	bookScholar map[uint64]bool
}

func (s *stubContent) CreateBook(_ context.Context, caller model.Identity, in service.BookInput) (model.Book, error) {
	if !s.bookScholar[in.ScholarID] {
		return model.Book{}, apperr.Forbidden("You don't have access to this scholar")
	}
	by := caller.UserID
	return model.Book{ID: 11, ScholarID: in.ScholarID, Name: in.Name, CreatedBy: &by}, nil
}

func (s *stubContent) UpdateBook(_ context.Context, _ model.Identity, id uint64, _ service.BookUpdate) (model.Book, error) {
	return model.Book{ID: id}, nil
}

func (s *stubContent) UploadFile(_ context.Context, _ model.Identity, bookID uint64, in service.UploadInput) (model.File, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return model.File{}, err
	}
	s.uploaded, s.uploadBytes = in, body
	return model.File{ID: 200, BookID: bookID, Name: in.Filename, Size: int64(len(body))}, nil
}

func (s *stubContent) MoveFile(_ context.Context, _ model.Identity, fileID, bookID uint64) (model.File, error) {
	return model.File{ID: fileID, BookID: bookID}, nil
}

type stubDB struct{ err error }

func (s stubDB) PingContext(context.Context) error { return s.err }

var errDown = errors.New("connection refused")
