package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Subscription statuses.  pending -> active|cancelled, active ->
// expired|cancelled; expired and cancelled are terminal.
const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// DefaultCurrency applies when a purchase intent omits one.
const DefaultCurrency = "CFA"

// DaysPerMonth is the fixed month length used for end dates.
const DaysPerMonth = 30

// SubscriptionPlan mirrors tbl_subscription_plans.
type SubscriptionPlan struct {
	ID             uint64          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Description    *string         `db:"description" json:"description"`
	DurationMonths int             `db:"duration_months" json:"duration_months"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Currency       string          `db:"currency" json:"currency"`
	Features       json.RawMessage `db:"features" json:"features"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	SortOrder      int             `db:"sort_order" json:"sort_order"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// PlanSummary is attached to subscriptions in responses.
type PlanSummary struct {
	ID             uint64          `db:"plan_id" json:"id"`
	Name           string          `db:"plan_name" json:"name"`
	DurationMonths int             `db:"plan_duration_months" json:"duration_months"`
	Price          decimal.Decimal `db:"plan_price" json:"price"`
	Currency       string          `db:"plan_currency" json:"currency"`
}

// UserSubscription mirrors tbl_user_subscriptions.
type UserSubscription struct {
	ID                   uint64          `db:"id" json:"id"`
	UserID               uint64          `db:"user_id" json:"user_id"`
	PlanID               uint64          `db:"subscription_plan_id" json:"subscription_plan_id"`
	Status               string          `db:"status" json:"status"`
	StartDate            *time.Time      `db:"start_date" json:"start_date"`
	EndDate              *time.Time      `db:"end_date" json:"end_date"`
	PaymentMethod        string          `db:"payment_method" json:"payment_method"`
	TransactionReference string          `db:"transaction_reference" json:"transaction_reference"`
	PaymentAmount        decimal.Decimal `db:"payment_amount" json:"payment_amount"`
	PaymentCurrency      string          `db:"payment_currency" json:"payment_currency"`
	PaymentDate          time.Time       `db:"payment_date" json:"payment_date"`
	Notes                *string         `db:"notes" json:"notes"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// SubscriptionWithPlan is a subscription joined with its plan.
type SubscriptionWithPlan struct {
	UserSubscription
	Plan PlanSummary `db:"-" json:"plan"`
}

// PendingSubscription is an admin-queue row: the subscription, its plan and
// who asked for it.
type PendingSubscription struct {
	SubscriptionWithPlan
	UserName  string `db:"user_name" json:"user_name"`
	UserEmail string `db:"user_email" json:"user_email"`
}

// SubscriptionStatus is the caller-facing summary of a user's access.
type SubscriptionStatus struct {
	HasActive     bool                  `json:"has_active_subscription"`
	Current       *SubscriptionWithPlan `json:"current_subscription"`
	ExpiresAt     *time.Time            `json:"subscription_expires_at"`
	DaysRemaining *int                  `json:"days_remaining"`
}
