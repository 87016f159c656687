package handler

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/service"
)

// Subscriptions is satisfied by *service.SubscriptionService.
type Subscriptions interface {
	ListPlans(ctx context.Context) ([]model.SubscriptionPlan, error)
	CreateIntent(ctx context.Context, userID uint64, in service.IntentInput) (model.SubscriptionWithPlan, error)
	Status(ctx context.Context, userID uint64) (model.SubscriptionStatus, error)
	CurrentActive(ctx context.Context, userID uint64) (*model.SubscriptionWithPlan, error)
	ListMine(ctx context.Context, userID uint64) ([]model.SubscriptionWithPlan, error)
	ListPending(ctx context.Context, page service.Page) ([]model.PendingSubscription, int, error)
	Verify(ctx context.Context, id uint64, decision string, notes *string) (model.SubscriptionWithPlan, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type SubscriptionHandler struct {
	subs Subscriptions
}

func NewSubscriptionHandler(subs Subscriptions) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

type subscribeReq struct {
	PlanID               uint64          `json:"plan_id"`
	PaymentMethod        string          `json:"payment_method"`
	TransactionReference string          `json:"transaction_reference"`
	PaymentAmount        decimal.Decimal `json:"payment_amount"`
	PaymentCurrency      string          `json:"payment_currency"`
	Notes                *string         `json:"notes"`
}

type verifyReq struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

func (h *SubscriptionHandler) Plans(c echo.Context) error {
	ctx, cancel := storeContext(c)
	defer cancel()
	plans, err := h.subs.ListPlans(ctx)
	if err != nil {
		return err
	}
	return ok(c, plans, "")
}

func (h *SubscriptionHandler) Subscribe(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req subscribeReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	sub, err := h.subs.CreateIntent(ctx, id.UserID, service.IntentInput{
		PlanID:               req.PlanID,
		PaymentMethod:        req.PaymentMethod,
		TransactionReference: req.TransactionReference,
		PaymentAmount:        req.PaymentAmount,
		PaymentCurrency:      req.PaymentCurrency,
		Notes:                req.Notes,
	})
	if err != nil {
		return err
	}
	return created(c, sub, "Subscription request submitted. Awaiting payment verification.")
}

func (h *SubscriptionHandler) Status(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	st, err := h.subs.Status(ctx, id.UserID)
	if err != nil {
		return err
	}
	return ok(c, st, "")
}

func (h *SubscriptionHandler) Active(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	sub, err := h.subs.CurrentActive(ctx, id.UserID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ok(c, nil, "No active subscription")
	}
	return ok(c, sub, "")
}

func (h *SubscriptionHandler) Mine(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	subs, err := h.subs.ListMine(ctx, id.UserID)
	if err != nil {
		return err
	}
	return ok(c, subs, "")
}

func (h *SubscriptionHandler) Pending(c echo.Context) error {
	page := pageFrom(c)
	ctx, cancel := storeContext(c)
	defer cancel()
	rows, total, err := h.subs.ListPending(ctx, page)
	if err != nil {
		return err
	}
	return paged(c, rows, page, total)
}

func (h *SubscriptionHandler) Verify(c echo.Context) error {
	id, err := pathID(c, "id", "subscription")
	if err != nil {
		return err
	}
	var req verifyReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := storeContext(c)
	defer cancel()
	sub, err := h.subs.Verify(ctx, id, req.Status, req.Notes)
	if err != nil {
		return err
	}
	return ok(c, sub, "Subscription "+sub.Status)
}

func (h *SubscriptionHandler) Expire(c echo.Context) error {
	ctx, cancel := storeContext(c)
	defer cancel()
	n, err := h.subs.SweepExpired(ctx)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"expired": n}, "")
}
