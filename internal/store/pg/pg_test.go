package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/payment"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func TestTransitionPaymentChanged(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("update payments")).
		WithArgs("pay-1", "succeeded", "pi_1", nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := s.TransitionPayment(context.Background(), "pay-1", payment.Transition{
		To: payment.StatusSucceeded, IntentID: "pi_1", At: now,
	})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestTransitionPaymentGuardedNoop(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("update payments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from payments where id = $1)")).
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	changed, err := s.TransitionPayment(context.Background(), "pay-1", payment.Transition{To: payment.StatusFailed, At: now})
	require.NoError(t, err)
	assert.False(t, changed, "terminal row must not change")
}

func TestTransitionPaymentMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("update payments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.TransitionPayment(context.Background(), "nope", payment.Transition{To: payment.StatusFailed, At: now})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransitionPaymentDuplicateIntent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("update payments")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.TransitionPayment(context.Background(), "pay-1", payment.Transition{To: payment.StatusProcessing, IntentID: "pi_dup", At: now})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAdvanceStatusGuard(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("where id = $1 and status_rank < $3::smallint")).
		WithArgs("app-1", "ready_to_submit", application.StatusReadyToSubmit.Rank(), now, application.StatusFormCompleted.Rank()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("update applications")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from applications where id = $1)")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ctx := context.Background()
	changed, err := s.AdvanceStatus(ctx, "app-1", application.StatusReadyToSubmit, now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.AdvanceStatus(ctx, "app-1", application.StatusPaymentPending, now)
	require.NoError(t, err)
	assert.False(t, changed, "backwards advance")
}

func TestGetPaymentNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("from payments where id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLatestPaymentScansNullables(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "application_id", "user_id", "amount", "currency", "status",
		"stripe_checkout_session_id", "stripe_payment_intent_id", "stripe_customer_id",
		"payment_method", "receipt_url", "error_message", "created_at", "updated_at", "completed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("where application_id = $1")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("pay-1", "app-1", "u-1", int64(1900), "eur", "succeeded",
			"cs_1", "pi_1", nil, nil, nil, nil, now, now, now))

	p, err := s.LatestPayment(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Equal(t, "cs_1", p.CheckoutSessionID)
	assert.Empty(t, p.CustomerID)
	require.NotNil(t, p.CompletedAt)
	assert.True(t, p.CompletedAt.Equal(now))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("insert into users")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.CreateUser(context.Background(), auth.User{ID: "u-1", Email: "a@example.com", Role: auth.RoleUser, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestInsertEventDefaultsData(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("insert into analytics_events")).
		WithArgs("ev-1", nil, "sess", "page_view", []byte("{}"), nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertEvent(context.Background(), analytics.Event{ID: "ev-1", SessionID: "sess", Type: "page_view", CreatedAt: now})
	assert.NoError(t, err)
}

func TestPaymentTotalsSumsSucceeded(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("from payments")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count", "sum"}).
			AddRow("succeeded", int64(2), int64(3800)).
			AddRow("failed", int64(1), int64(0)))

	got, err := s.PaymentTotals(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3800, got.SucceededAmount)
	assert.EqualValues(t, 2, got.ByStatus["succeeded"])
	assert.EqualValues(t, 1, got.ByStatus["failed"])
}

func TestEventCountsByTypeOpenBounds(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("($1::timestamptz is null or created_at >= $1)")).
		WithArgs(nil, now).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).AddRow("page_view", int64(4)))

	got, err := s.EventCountsByType(context.Background(), nil, &now)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got["page_view"])
}

func TestDailyEventCountsEmpty(t *testing.T) {
	s, mock := newMock(t)
	since := now.AddDate(0, 0, -30)
	mock.ExpectQuery(regexp.QuoteMeta("from analytics_events")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}))

	got, err := s.DailyEventCounts(context.Background(), since)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNilDB(t *testing.T) {
	s := &Store{}
	assert.ErrorIs(t, s.Ping(context.Background()), errNoDB)
}
