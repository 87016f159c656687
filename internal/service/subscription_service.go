package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/metrics"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/repository"
)

// SubscriptionService owns the plan catalog and the subscription state
// machine: pending -> active|cancelled, active -> expired|cancelled.
type SubscriptionService struct {
	store   SubscriptionStore
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewSubscriptionService(store SubscriptionStore, m *metrics.Metrics, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{store: store, metrics: m, log: log, now: time.Now}
}

// WithClock replaces the wall clock; used by tests.
func (s *SubscriptionService) WithClock(now func() time.Time) *SubscriptionService {
	s.now = now
	return s
}

// today is the current UTC calendar date at midnight.
func (s *SubscriptionService) today() time.Time {
	t := s.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndDate is start + months x 30 days.
func EndDate(start time.Time, months int) time.Time {
	return start.AddDate(0, 0, months*model.DaysPerMonth)
}

func (s *SubscriptionService) ListPlans(ctx context.Context) ([]model.SubscriptionPlan, error) {
	plans, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to load subscription plans", err)
	}
	return plans, nil
}

// IntentInput is a user's claim to have paid for a plan.
type IntentInput struct {
	PlanID               uint64
	PaymentMethod        string
	TransactionReference string
	PaymentAmount        decimal.Decimal
	PaymentCurrency      string
	Notes                *string
}

// CreateIntent records a pending subscription awaiting admin verification.
// A user with an active subscription may still file one; it renews.
func (s *SubscriptionService) CreateIntent(ctx context.Context, userID uint64, in IntentInput) (model.SubscriptionWithPlan, error) {
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.TransactionReference = strings.TrimSpace(in.TransactionReference)
	switch {
	case in.PlanID == 0:
		return model.SubscriptionWithPlan{}, apperr.Validation("subscription_plan_id is required")
	case in.PaymentMethod == "":
		return model.SubscriptionWithPlan{}, apperr.Validation("payment_method is required")
	case in.TransactionReference == "":
		return model.SubscriptionWithPlan{}, apperr.Validation("transaction_reference is required")
	case !in.PaymentAmount.IsPositive():
		return model.SubscriptionWithPlan{}, apperr.Validation("payment_amount must be greater than zero")
	}

	plan, err := s.store.GetPlan(ctx, in.PlanID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.SubscriptionWithPlan{}, apperr.NotFound("Subscription plan not found")
	}
	if err != nil {
		return model.SubscriptionWithPlan{}, apperr.Internal("Failed to load subscription plan", err)
	}
	if !plan.IsActive {
		return model.SubscriptionWithPlan{}, apperr.Validation("Subscription plan is not available")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.PaymentCurrency))
	if currency == "" {
		currency = model.DefaultCurrency
	}

	sub, err := s.store.CreatePending(ctx, model.UserSubscription{
		UserID:               userID,
		PlanID:               plan.ID,
		Status:               model.SubscriptionPending,
		PaymentMethod:        in.PaymentMethod,
		TransactionReference: in.TransactionReference,
		PaymentAmount:        in.PaymentAmount,
		PaymentCurrency:      currency,
		PaymentDate:          s.now().UTC(),
		Notes:                in.Notes,
	})
	switch {
	case errors.Is(err, repository.ErrPendingExists):
		return model.SubscriptionWithPlan{}, apperr.Conflict("You already have a pending subscription awaiting verification")
	case errors.Is(err, repository.ErrReferenceMissing):
		return model.SubscriptionWithPlan{}, apperr.NotFound("Subscription plan not found")
	case errors.Is(err, repository.ErrNotFound):
		return model.SubscriptionWithPlan{}, apperr.NotFound("User not found")
	case err != nil:
		return model.SubscriptionWithPlan{}, apperr.Internal("Failed to create subscription", err)
	}
	s.log.Info("subscription requested",
		zap.Uint64("user_id", userID), zap.Uint64("subscription_id", sub.ID), zap.Uint64("plan_id", plan.ID))
	return sub, nil
}

// CurrentActive returns the user's newest active, unexpired subscription
// or nil.
func (s *SubscriptionService) CurrentActive(ctx context.Context, userID uint64) (*model.SubscriptionWithPlan, error) {
	sub, err := s.store.CurrentActive(ctx, userID, s.today())
	if err != nil {
		return nil, apperr.Internal("Failed to load subscription", err)
	}
	return sub, nil
}

// Status summarises the user's access.  days_remaining counts calendar days
// from today to the end date and is absent for open-ended subscriptions.
func (s *SubscriptionService) Status(ctx context.Context, userID uint64) (model.SubscriptionStatus, error) {
	today := s.today()
	sub, err := s.store.CurrentActive(ctx, userID, today)
	if err != nil {
		return model.SubscriptionStatus{}, apperr.Internal("Failed to load subscription", err)
	}
	if sub == nil {
		return model.SubscriptionStatus{}, nil
	}
	st := model.SubscriptionStatus{HasActive: true, Current: sub, ExpiresAt: sub.EndDate}
	if sub.EndDate != nil {
		end := sub.EndDate.UTC()
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
		days := int(end.Sub(today).Hours() / 24)
		st.DaysRemaining = &days
	}
	return st, nil
}

func (s *SubscriptionService) ListMine(ctx context.Context, userID uint64) ([]model.SubscriptionWithPlan, error) {
	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("Failed to load subscriptions", err)
	}
	return subs, nil
}

// ListPending returns one page of the verification queue and the total.
func (s *SubscriptionService) ListPending(ctx context.Context, page Page) ([]model.PendingSubscription, int, error) {
	page = page.Normalize()
	rows, total, err := s.store.ListPending(ctx, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("Failed to load pending subscriptions", err)
	}
	return rows, total, nil
}

// Verify applies an admin decision.  Activation dates the subscription
// from today for the plan's duration, or from the end of the user's current
// period when one runs past today; cancellation leaves dates alone.
func (s *SubscriptionService) Verify(ctx context.Context, id uint64, decision string, notes *string) (model.SubscriptionWithPlan, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	if decision != model.SubscriptionActive && decision != model.SubscriptionCancelled {
		return model.SubscriptionWithPlan{}, apperr.Validation("Invalid status. Must be 'active' or 'cancelled'.")
	}
	today := s.today()

	out, err := s.store.UpdateLocked(ctx, id, func(sub *model.UserSubscription, plan model.SubscriptionPlan, coveredUntil *time.Time) error {
		if !canTransition(sub.Status, decision) {
			return apperr.Validation(fmt.Sprintf("Cannot change a %s subscription to %s", sub.Status, decision))
		}
		if decision == model.SubscriptionActive {
			start := renewalStart(today, coveredUntil)
			end := EndDate(start, plan.DurationMonths)
			sub.StartDate, sub.EndDate = &start, &end
		}
		sub.Status = decision
		if notes != nil {
			sub.Notes = notes
		}
		return nil
	})

	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return model.SubscriptionWithPlan{}, ae
	case errors.Is(err, repository.ErrNotFound):
		return model.SubscriptionWithPlan{}, apperr.NotFound("Subscription not found")
	case errors.Is(err, repository.ErrPlanMissing):
		return model.SubscriptionWithPlan{}, apperr.NotFound("Subscription plan not found")
	case err != nil:
		return model.SubscriptionWithPlan{}, apperr.Internal("Failed to update subscription", err)
	}
	s.log.Info("subscription verified", zap.Uint64("subscription_id", id), zap.String("status", decision))
	return out, nil
}

// renewalStart is today unless an existing period ends later, in which
// case the new one begins on that end date.
func renewalStart(today time.Time, coveredUntil *time.Time) time.Time {
	if coveredUntil == nil {
		return today
	}
	end := coveredUntil.UTC()
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if end.After(today) {
		return end
	}
	return today
}

func canTransition(from, to string) bool {
	switch from {
	case model.SubscriptionPending:
		return to == model.SubscriptionActive || to == model.SubscriptionCancelled
	case model.SubscriptionActive:
		return to == model.SubscriptionCancelled || to == model.SubscriptionExpired
	}
	return false
}

// SweepExpired expires every active subscription whose end date has
// passed.  It is idempotent.
func (s *SubscriptionService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireDue(ctx, s.today())
	if err != nil {
		return 0, apperr.Internal("Failed to expire subscriptions", err)
	}
	s.metrics.ObserveSweep(n)
	if n > 0 {
		s.log.Info("subscriptions expired", zap.Int64("count", n))
	}
	return n, nil
}
