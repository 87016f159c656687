// Package service holds the business rules of the paid-access pipeline:
// accounts and credentials, the scholar access policy, subscriptions and
// metered downloads.  Each service declares the narrow collaborator
// interfaces it needs; the repository, utils and mailer packages satisfy
// them in production.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/queue"
	"github.com/iliyamo/sunnah-audio/internal/repository"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

type UserStore interface {
	Create(ctx context.Context, u *model.User) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetActiveByID(ctx context.Context, id uint64) (model.User, error)
	UpdateProfile(ctx context.Context, id uint64, name string, address, phone *string) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	SetStatus(ctx context.Context, id uint64, status string) error
}

// ActiveUserLoader resolves a caller to their current, enabled user row.
type ActiveUserLoader interface {
	GetActiveByID(ctx context.Context, id uint64) (model.User, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	VerifyDummy(password string)
	NeedsRehash(encoded string) bool
}

type TokenMinter interface {
	Mint(userID uint64, email, role string) (utils.IssuedToken, error)
}

type OtpStore interface {
	Put(ctx context.Context, email, code string, ttl time.Duration) error
	Take(ctx context.Context, email, code string) (repository.OtpOutcome, error)
}

type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
	SendResetConfirmation(ctx context.Context, to string) error
}

type AccessStore interface {
	Grant(ctx context.Context, userID, scholarID, grantedBy uint64) error
	Revoke(ctx context.Context, userID, scholarID uint64) error
	Has(ctx context.Context, userID, scholarID uint64) (bool, error)
	ScholarsFor(ctx context.Context, userID uint64) ([]model.ScholarPermission, error)
	ListAll(ctx context.Context) ([]model.AccessListing, error)
}

type SubscriptionStore interface {
	ListActivePlans(ctx context.Context) ([]model.SubscriptionPlan, error)
	GetPlan(ctx context.Context, id uint64) (model.SubscriptionPlan, error)
	CreatePending(ctx context.Context, sub model.UserSubscription) (model.SubscriptionWithPlan, error)
	CurrentActive(ctx context.Context, userID uint64, today time.Time) (*model.SubscriptionWithPlan, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.SubscriptionWithPlan, error)
	ListPending(ctx context.Context, limit, offset int) ([]model.PendingSubscription, int, error)
	UpdateLocked(ctx context.Context, id uint64, fn func(sub *model.UserSubscription, plan model.SubscriptionPlan, coveredUntil *time.Time) error) (model.SubscriptionWithPlan, error)
	ExpireDue(ctx context.Context, today time.Time) (int64, error)
}

// ActiveSubscriptionFinder is the slice of SubscriptionService the access
// policy and the auth flow read.
type ActiveSubscriptionFinder interface {
	CurrentActive(ctx context.Context, userID uint64) (*model.SubscriptionWithPlan, error)
}

type StatusReader interface {
	Status(ctx context.Context, userID uint64) (model.SubscriptionStatus, error)
}

type BookStore interface {
	GetScholar(ctx context.Context, id uint64) (model.Scholar, error)
	GetByID(ctx context.Context, id uint64) (model.Book, error)
	Create(ctx context.Context, b model.Book) (model.Book, error)
	Update(ctx context.Context, b model.Book) (model.Book, error)
}

type FileStore interface {
	GetActiveByID(ctx context.Context, id uint64) (model.File, error)
	GetByID(ctx context.Context, id uint64) (model.File, error)
	Create(ctx context.Context, f model.File) (model.File, error)
	Move(ctx context.Context, id, bookID, scholarID uint64) (model.File, error)
	IncrementDownloads(ctx context.Context, id uint64) error
	Stats(ctx context.Context, id uint64) (model.FileStats, error)
}

type DownloadLogStore interface {
	Insert(ctx context.Context, l model.DownloadLog) (uint64, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.DownloadHistoryItem, int, error)
}

// ContentAuthorizer gates scholar-scoped writes.
type ContentAuthorizer interface {
	Authorize(ctx context.Context, caller model.Identity, scholarID uint64, op model.Operation) error
	AuthorizeMove(ctx context.Context, caller model.Identity, op model.Operation, fromScholar, toScholar uint64) error
}

// DownloadAuthorizer is the read-side check; it also returns the caller's
// active subscription, if any, for the audit row.
type DownloadAuthorizer interface {
	CanDownload(ctx context.Context, caller model.Identity, scholarID uint64) (bool, *model.SubscriptionWithPlan, error)
}

type EventPublisher interface {
	PublishDownloaded(ctx context.Context, ev queue.DownloadRecordedEvent) error
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.Limit }
