package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/queue"
	"github.com/iliyamo/sunnah-audio/internal/repository"
	"github.com/iliyamo/sunnah-audio/internal/utils"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) Create(ctx context.Context, u *model.User) (uint64, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (model.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) GetByID(ctx context.Context, id uint64) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) GetActiveByID(ctx context.Context, id uint64) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockUsers) UpdateProfile(ctx context.Context, id uint64, name string, address, phone *string) error {
	return m.Called(ctx, id, name, address, phone).Error(0)
}

func (m *mockUsers) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *mockUsers) SetStatus(ctx context.Context, id uint64, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

type mockOtps struct{ mock.Mock }

func (m *mockOtps) Put(ctx context.Context, email, code string, ttl time.Duration) error {
	return m.Called(ctx, email, code, ttl).Error(0)
}

func (m *mockOtps) Take(ctx context.Context, email, code string) (repository.OtpOutcome, error) {
	args := m.Called(ctx, email, code)
	return args.Get(0).(repository.OtpOutcome), args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendOTP(ctx context.Context, to, code string) error {
	return m.Called(ctx, to, code).Error(0)
}

func (m *mockMailer) SendResetConfirmation(ctx context.Context, to string) error {
	return m.Called(ctx, to).Error(0)
}

type mockACL struct{ mock.Mock }

func (m *mockACL) Grant(ctx context.Context, userID, scholarID, grantedBy uint64) error {
	return m.Called(ctx, userID, scholarID, grantedBy).Error(0)
}

func (m *mockACL) Revoke(ctx context.Context, userID, scholarID uint64) error {
	return m.Called(ctx, userID, scholarID).Error(0)
}

func (m *mockACL) Has(ctx context.Context, userID, scholarID uint64) (bool, error) {
	args := m.Called(ctx, userID, scholarID)
	return args.Bool(0), args.Error(1)
}

func (m *mockACL) ScholarsFor(ctx context.Context, userID uint64) ([]model.ScholarPermission, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.ScholarPermission), args.Error(1)
}

func (m *mockACL) ListAll(ctx context.Context) ([]model.AccessListing, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.AccessListing), args.Error(1)
}

type mockSubs struct{ mock.Mock }

func (m *mockSubs) CurrentActive(ctx context.Context, userID uint64) (*model.SubscriptionWithPlan, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*model.SubscriptionWithPlan)
	return sub, args.Error(1)
}

type mockStatus struct{ mock.Mock }

func (m *mockStatus) Status(ctx context.Context, userID uint64) (model.SubscriptionStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.SubscriptionStatus), args.Error(1)
}

// fakeHasher is a transparent hasher; "h:" + password.
type fakeHasher struct {
	mu      sync.Mutex
	dummies int
	fail    error
}

func (h *fakeHasher) Hash(p string) (string, error) {
	if h.fail != nil {
		return "", h.fail
	}
	return "h:" + p, nil
}
func (h *fakeHasher) Verify(p, enc string) bool { return enc == "h:"+p }
func (h *fakeHasher) VerifyDummy(string) {
	h.mu.Lock()
	h.dummies++
	h.mu.Unlock()
}
func (h *fakeHasher) NeedsRehash(string) bool { return false }

type fakeTokens struct{ at time.Time }

func (t fakeTokens) Mint(userID uint64, email, role string) (utils.IssuedToken, error) {
	return utils.IssuedToken{Token: "tok-" + email, ExpiresAt: t.at.Add(24 * time.Hour)}, nil
}

// memSubscriptions is an in-memory SubscriptionStore with the same
// predicates as the SQL one.
type memSubscriptions struct {
	mu     sync.Mutex
	plans  map[uint64]model.SubscriptionPlan
	subs   map[uint64]*model.UserSubscription
	nextID uint64
	clock  time.Time
}

func newMemSubscriptions(plans ...model.SubscriptionPlan) *memSubscriptions {
	m := &memSubscriptions{plans: map[uint64]model.SubscriptionPlan{}, subs: map[uint64]*model.UserSubscription{}}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *memSubscriptions) withPlan(s model.UserSubscription) model.SubscriptionWithPlan {
	p := m.plans[s.PlanID]
	return model.SubscriptionWithPlan{
		UserSubscription: s,
		Plan: model.PlanSummary{ID: p.ID, Name: p.Name, DurationMonths: p.DurationMonths,
			Price: p.Price, Currency: p.Currency},
	}
}

func (m *memSubscriptions) ListActivePlans(ctx context.Context) ([]model.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.SubscriptionPlan{}
	for _, p := range m.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out, nil
}

func (m *memSubscriptions) GetPlan(ctx context.Context, id uint64) (model.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.SubscriptionPlan{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memSubscriptions) CreatePending(ctx context.Context, sub model.UserSubscription) (model.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == sub.UserID && s.Status == model.SubscriptionPending {
			return model.SubscriptionWithPlan{}, repository.ErrPendingExists
		}
	}
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	sub.ID = m.nextID
	sub.CreatedAt = m.clock
	m.subs[sub.ID] = &sub
	return m.withPlan(sub), nil
}

func (m *memSubscriptions) CurrentActive(ctx context.Context, userID uint64, today time.Time) (*model.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.UserSubscription
	for _, s := range m.subs {
		if s.UserID != userID || s.Status != model.SubscriptionActive {
			continue
		}
		if s.EndDate != nil && s.EndDate.Before(today) {
			continue
		}
		if s.StartDate != nil && s.StartDate.After(today) {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) ||
			(s.CreatedAt.Equal(best.CreatedAt) && s.ID > best.ID) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	out := m.withPlan(*best)
	return &out, nil
}

func (m *memSubscriptions) ListByUser(ctx context.Context, userID uint64) ([]model.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.SubscriptionWithPlan{}
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, m.withPlan(*s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memSubscriptions) ListPending(ctx context.Context, limit, offset int) ([]model.PendingSubscription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []model.PendingSubscription{}
	for _, s := range m.subs {
		if s.Status == model.SubscriptionPending {
			all = append(all, model.PendingSubscription{SubscriptionWithPlan: m.withPlan(*s)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memSubscriptions) UpdateLocked(ctx context.Context, id uint64,
	fn func(sub *model.UserSubscription, plan model.SubscriptionPlan, coveredUntil *time.Time) error,
) (model.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return model.SubscriptionWithPlan{}, repository.ErrNotFound
	}
	p, ok := m.plans[s.PlanID]
	if !ok {
		return model.SubscriptionWithPlan{}, repository.ErrPlanMissing
	}
	var until *time.Time
	for _, o := range m.subs {
		if o.UserID != s.UserID || o.ID == s.ID || o.Status != model.SubscriptionActive || o.EndDate == nil {
			continue
		}
		if until == nil || o.EndDate.After(*until) {
			e := *o.EndDate
			until = &e
		}
	}
	cp := *s
	if err := fn(&cp, p, until); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	*s = cp
	return m.withPlan(cp), nil
}

func (m *memSubscriptions) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.subs {
		if s.Status == model.SubscriptionActive && s.EndDate != nil && s.EndDate.Before(today) {
			s.Status = model.SubscriptionExpired
			n++
		}
	}
	return n, nil
}

// put stores a row directly.
func (m *memSubscriptions) put(s model.UserSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID > m.nextID {
		m.nextID = s.ID
	}
	m.subs[s.ID] = &s
}

func (m *memSubscriptions) get(id uint64) model.UserSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[id]
}

type mockFiles struct{ mock.Mock }

func (m *mockFiles) GetActiveByID(ctx context.Context, id uint64) (model.File, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.File), args.Error(1)
}

func (m *mockFiles) GetByID(ctx context.Context, id uint64) (model.File, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.File), args.Error(1)
}

func (m *mockFiles) Create(ctx context.Context, f model.File) (model.File, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(model.File), args.Error(1)
}

func (m *mockFiles) Move(ctx context.Context, id, bookID, scholarID uint64) (model.File, error) {
	args := m.Called(ctx, id, bookID, scholarID)
	return args.Get(0).(model.File), args.Error(1)
}

func (m *mockFiles) IncrementDownloads(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockFiles) Stats(ctx context.Context, id uint64) (model.FileStats, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.FileStats), args.Error(1)
}

type mockLogs struct{ mock.Mock }

func (m *mockLogs) Insert(ctx context.Context, l model.DownloadLog) (uint64, error) {
	args := m.Called(ctx, l)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockLogs) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.DownloadHistoryItem, int, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]model.DownloadHistoryItem), args.Int(1), args.Error(2)
}

type mockDownloadPolicy struct{ mock.Mock }

func (m *mockDownloadPolicy) CanDownload(ctx context.Context, caller model.Identity, scholarID uint64) (bool, *model.SubscriptionWithPlan, error) {
	args := m.Called(ctx, caller, scholarID)
	sub, _ := args.Get(1).(*model.SubscriptionWithPlan)
	return args.Bool(0), sub, args.Error(2)
}

type mockBooks struct{ mock.Mock }

func (m *mockBooks) GetScholar(ctx context.Context, id uint64) (model.Scholar, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Scholar), args.Error(1)
}

func (m *mockBooks) GetByID(ctx context.Context, id uint64) (model.Book, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Book), args.Error(1)
}

func (m *mockBooks) Create(ctx context.Context, b model.Book) (model.Book, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(model.Book), args.Error(1)
}

func (m *mockBooks) Update(ctx context.Context, b model.Book) (model.Book, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(model.Book), args.Error(1)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	ch chan queue.DownloadRecordedEvent
}

func (p *recordingPublisher) PublishDownloaded(ctx context.Context, ev queue.DownloadRecordedEvent) error {
	p.ch <- ev
	return nil
}
