package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sunnah-audio/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestUserCreateMapsDuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tbl_users")).
		WithArgs("Aisha", "aisha@example.org", nil, nil, "user", "hash", "active").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := NewUserRepo(db).Create(context.Background(), &model.User{
		Name: "Aisha", Email: " Aisha@Example.org", Role: "user", PasswordHash: "hash", Status: "active",
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUserGetByEmailNormalizes(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "address", "phone", "role", "password", "status", "created_at", "updated_at"}).
		AddRow(7, "Aisha", "aisha@example.org", nil, "555", "user", "h", "active", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tbl_users WHERE email = ?")).
		WithArgs("aisha@example.org").
		WillReturnRows(rows)

	u, err := NewUserRepo(db).GetByEmail(context.Background(), "AISHA@example.org")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), u.ID)
	assert.Nil(t, u.Address)
	require.NotNil(t, u.Phone)
	assert.Equal(t, "555", *u.Phone)
}

func TestUserGetActiveByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ? AND status = 'active'")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewUserRepo(db).GetActiveByID(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccessGrantMissingReference(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tbl_access")).
		WithArgs(42, 7, 1).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})

	err := NewAccessRepo(db).Grant(context.Background(), 42, 7, 1)
	assert.ErrorIs(t, err, ErrReferenceMissing)
}

func TestAccessRevokeAbsentRow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tbl_access")).
		WithArgs(42, 7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewAccessRepo(db).Revoke(context.Background(), 42, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireDueUsesDatePredicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE tbl_user_subscriptions\s+SET status = 'expired'.*WHERE status = 'active' AND end_date IS NOT NULL AND end_date < \?`).
		WithArgs("2025-03-01").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewSubscriptionRepo(db).ExpireDue(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCreatePendingRejectsSecondPending(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM tbl_users WHERE id = ? AND status = 'active' FOR UPDATE")).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tbl_user_subscriptions WHERE user_id = ? AND status = 'pending'")).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectRollback()

	_, err := NewSubscriptionRepo(db).CreatePending(context.Background(),
		model.UserSubscription{UserID: 42, PlanID: 3})
	assert.ErrorIs(t, err, ErrPendingExists)
}

func TestUpdateLockedReportsCurrentPeriodEnd(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tbl_user_subscriptions WHERE id = ? FOR UPDATE")).
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "subscription_plan_id", "status"}).
			AddRow(11, 42, 3, "pending"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tbl_subscription_plans WHERE id = ? LOCK IN SHARE MODE")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration_months", "price", "is_active"}).
			AddRow(3, 1, "1000", true))
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(end_date) FROM tbl_user_subscriptions")).
		WithArgs(42, 11).
		WillReturnRows(sqlmock.NewRows([]string{"m"}).AddRow(end))
	mock.ExpectRollback()

	stop := errors.New("stop")
	var got *time.Time
	_, err := NewSubscriptionRepo(db).UpdateLocked(context.Background(), 11,
		func(sub *model.UserSubscription, plan model.SubscriptionPlan, coveredUntil *time.Time) error {
			got = coveredUntil
			return stop
		})
	assert.ErrorIs(t, err, stop)
	require.NotNil(t, got)
	assert.Equal(t, end, *got)
}

func TestCurrentActiveIgnoresFutureRenewal(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`AND \(s\.start_date IS NULL OR s\.start_date <= \?\)\s+AND \(s\.end_date IS NULL OR s\.end_date >= \?\)`).
		WithArgs(42, "2025-06-15", "2025-06-15").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sub, err := NewSubscriptionRepo(db).CurrentActive(context.Background(), 42, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestIncrementDownloadsSingleStatement(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tbl_files SET downloads = downloads + 1 WHERE id = ?")).
		WithArgs(100).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewFileRepo(db).IncrementDownloads(context.Background(), 100))
}

func TestDownloadInsertClipsClientStrings(t *testing.T) {
	db, mock := newMockDB(t)
	ip := strings.Repeat("f", 80)
	ua := strings.Repeat("é", 600)
	at := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tbl_download_logs")).
		WithArgs(42, nil, 100, strings.Repeat("f", 64), strings.Repeat("é", 512), at).
		WillReturnResult(sqlmock.NewResult(9, 1))

	id, err := NewDownloadRepo(db).Insert(context.Background(), model.DownloadLog{
		UserID: 42, FileID: 100, IP: &ip, UserAgent: &ua, DownloadedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), id)
}
