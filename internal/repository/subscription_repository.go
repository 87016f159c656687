package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

const dateLayout = "2006-01-02"

const planColumns = `id, name, description, duration_months, price, currency,
	COALESCE(features, JSON_ARRAY()) AS features, is_active, sort_order, created_at, updated_at`

const subscriptionWithPlanSelect = `
	SELECT s.id, s.user_id, s.subscription_plan_id, s.status, s.start_date, s.end_date,
	       s.payment_method, s.transaction_reference, s.payment_amount, s.payment_currency,
	       s.payment_date, s.notes, s.created_at, s.updated_at,
	       p.id AS plan_id, p.name AS plan_name, p.duration_months AS plan_duration_months,
	       p.price AS plan_price, p.currency AS plan_currency
	FROM tbl_user_subscriptions s
	JOIN tbl_subscription_plans p ON p.id = s.subscription_plan_id`

// subscriptionRow is the flat scan target of subscriptionWithPlanSelect.
type subscriptionRow struct {
	model.UserSubscription
	model.PlanSummary
}

func (r subscriptionRow) toModel() model.SubscriptionWithPlan {
	return model.SubscriptionWithPlan{UserSubscription: r.UserSubscription, Plan: r.PlanSummary}
}

type pendingRow struct {
	model.UserSubscription
	model.PlanSummary
	UserName  string `db:"user_name"`
	UserEmail string `db:"user_email"`
}

// SubscriptionRepo manages plans and user subscriptions.
type SubscriptionRepo struct{ DB *sqlx.DB }

func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo { return &SubscriptionRepo{DB: db} }

// ListActivePlans returns active plans by sort order, then price.
func (r *SubscriptionRepo) ListActivePlans(ctx context.Context) ([]model.SubscriptionPlan, error) {
	out := []model.SubscriptionPlan{}
	err := r.DB.SelectContext(ctx, &out,
		"SELECT "+planColumns+" FROM tbl_subscription_plans WHERE is_active = 1 ORDER BY sort_order ASC, price ASC, id ASC")
	return out, err
}

// GetPlan returns a plan regardless of its active flag.
func (r *SubscriptionRepo) GetPlan(ctx context.Context, id uint64) (model.SubscriptionPlan, error) {
	var p model.SubscriptionPlan
	err := r.DB.GetContext(ctx, &p, "SELECT "+planColumns+" FROM tbl_subscription_plans WHERE id = ?", id)
	return p, notFound(err)
}

// CreatePending inserts a pending subscription.  The user row is locked for
// the duration of the check-then-insert so two intents for one user
// serialize; the unique key on pending_user_id backs this up.
func (r *SubscriptionRepo) CreatePending(ctx context.Context, sub model.UserSubscription) (model.SubscriptionWithPlan, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var uid uint64
	if err := tx.GetContext(ctx, &uid,
		"SELECT id FROM tbl_users WHERE id = ? AND status = 'active' FOR UPDATE", sub.UserID); err != nil {
		return model.SubscriptionWithPlan{}, notFound(err)
	}

	var pending int
	if err := tx.GetContext(ctx, &pending,
		"SELECT COUNT(*) FROM tbl_user_subscriptions WHERE user_id = ? AND status = 'pending'", sub.UserID); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	if pending > 0 {
		return model.SubscriptionWithPlan{}, ErrPendingExists
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tbl_user_subscriptions
			(user_id, subscription_plan_id, status, payment_method, transaction_reference,
			 payment_amount, payment_currency, payment_date, notes)
		VALUES (?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.PlanID, sub.PaymentMethod, sub.TransactionReference,
		sub.PaymentAmount, sub.PaymentCurrency, sub.PaymentDate, sub.Notes)
	if err != nil {
		switch {
		case isDuplicate(err):
			return model.SubscriptionWithPlan{}, ErrPendingExists
		case isMissingReference(err):
			return model.SubscriptionWithPlan{}, ErrReferenceMissing
		}
		return model.SubscriptionWithPlan{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.SubscriptionWithPlan{}, err
	}

	var row subscriptionRow
	if err := tx.GetContext(ctx, &row, subscriptionWithPlanSelect+" WHERE s.id = ?", id); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	committed = true
	return row.toModel(), nil
}

// CurrentActive returns the most recently created subscription that is
// active and covers today, or nil.  A verified renewal does not count until
// its start date.  Ties on created_at go to the greater id.
func (r *SubscriptionRepo) CurrentActive(ctx context.Context, userID uint64, today time.Time) (*model.SubscriptionWithPlan, error) {
	var row subscriptionRow
	d := today.Format(dateLayout)
	err := r.DB.GetContext(ctx, &row, subscriptionWithPlanSelect+`
		WHERE s.user_id = ? AND s.status = 'active'
		  AND (s.start_date IS NULL OR s.start_date <= ?)
		  AND (s.end_date IS NULL OR s.end_date >= ?)
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT 1`, userID, d, d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

// ListByUser returns all of a user's subscriptions, newest first.
func (r *SubscriptionRepo) ListByUser(ctx context.Context, userID uint64) ([]model.SubscriptionWithPlan, error) {
	var rows []subscriptionRow
	if err := r.DB.SelectContext(ctx, &rows, subscriptionWithPlanSelect+`
		WHERE s.user_id = ? ORDER BY s.created_at DESC, s.id DESC`, userID); err != nil {
		return nil, err
	}
	out := make([]model.SubscriptionWithPlan, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// ListPending returns one page of the admin verification queue, oldest
// first, and the total number of pending rows.
func (r *SubscriptionRepo) ListPending(ctx context.Context, limit, offset int) ([]model.PendingSubscription, int, error) {
	var total int
	if err := r.DB.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM tbl_user_subscriptions WHERE status = 'pending'"); err != nil {
		return nil, 0, err
	}
	var rows []pendingRow
	if err := r.DB.SelectContext(ctx, &rows, `
		SELECT q.*, u.name AS user_name, u.email AS user_email
		FROM (`+subscriptionWithPlanSelect+` WHERE s.status = 'pending') q
		JOIN tbl_users u ON u.id = q.user_id
		ORDER BY q.created_at ASC, q.id ASC
		LIMIT ? OFFSET ?`, limit, offset); err != nil {
		return nil, 0, err
	}
	out := make([]model.PendingSubscription, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.PendingSubscription{
			SubscriptionWithPlan: model.SubscriptionWithPlan{UserSubscription: row.UserSubscription, Plan: row.PlanSummary},
			UserName:             row.UserName,
			UserEmail:            row.UserEmail,
		})
	}
	return out, total, nil
}

// UpdateLocked loads subscription id and its plan inside one transaction,
// holding a row lock on the subscription, and lets fn decide the new state.
// fn also receives the latest end date among the user's other active
// subscriptions, nil when there is none.  Status, dates and notes are then
// written back before commit.  If fn returns an error nothing is written.
func (r *SubscriptionRepo) UpdateLocked(ctx context.Context, id uint64,
	fn func(sub *model.UserSubscription, plan model.SubscriptionPlan, coveredUntil *time.Time) error,
) (model.SubscriptionWithPlan, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var sub model.UserSubscription
	if err := tx.GetContext(ctx, &sub, `
		SELECT id, user_id, subscription_plan_id, status, start_date, end_date, payment_method,
		       transaction_reference, payment_amount, payment_currency, payment_date, notes,
		       created_at, updated_at
		FROM tbl_user_subscriptions WHERE id = ? FOR UPDATE`, id); err != nil {
		return model.SubscriptionWithPlan{}, notFound(err)
	}

	var plan model.SubscriptionPlan
	if err := tx.GetContext(ctx, &plan,
		"SELECT "+planColumns+" FROM tbl_subscription_plans WHERE id = ? LOCK IN SHARE MODE", sub.PlanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SubscriptionWithPlan{}, ErrPlanMissing
		}
		return model.SubscriptionWithPlan{}, err
	}

	var coveredUntil sql.NullTime
	if err := tx.GetContext(ctx, &coveredUntil, `
		SELECT MAX(end_date) FROM tbl_user_subscriptions
		WHERE user_id = ? AND id <> ? AND status = 'active'`, sub.UserID, sub.ID); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	var until *time.Time
	if coveredUntil.Valid {
		until = &coveredUntil.Time
	}

	if err := fn(&sub, plan, until); err != nil {
		return model.SubscriptionWithPlan{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tbl_user_subscriptions
		SET status = ?, start_date = ?, end_date = ?, notes = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ?`,
		sub.Status, formatDate(sub.StartDate), formatDate(sub.EndDate), sub.Notes, sub.ID); err != nil {
		return model.SubscriptionWithPlan{}, err
	}

	var row subscriptionRow
	if err := tx.GetContext(ctx, &row, subscriptionWithPlanSelect+" WHERE s.id = ?", id); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.SubscriptionWithPlan{}, err
	}
	committed = true
	return row.toModel(), nil
}

// ExpireDue moves every active subscription whose end date is before today
// to expired and returns how many rows changed.  Running it twice is
// harmless.
func (r *SubscriptionRepo) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tbl_user_subscriptions
		SET status = 'expired', updated_at = UTC_TIMESTAMP()
		WHERE status = 'active' AND end_date IS NOT NULL AND end_date < ?`,
		today.Format(dateLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func formatDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
