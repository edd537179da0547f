package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyalog/internal/payment"
	"afyalog/internal/tier"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func pendingTxn(id string) *payment.Transaction {
	uid := int64(42)
	return &payment.Transaction{
		TrackingID:  id,
		Kind:        payment.KindUpgrade,
		UserID:      &uid,
		TargetTier:  tier.Champion,
		Amount:      decimal.NewFromInt(150),
		Currency:    "KES",
		Channel:     "254712345678",
		Reference:   "ref-" + id,
		State:       payment.StateInitiated,
		InitiatedAt: t0,
		ExpiresAt:   t0.Add(10 * time.Minute),
	}
}

func pendingReg(id string) *payment.Registration {
	return &payment.Registration{
		TempID:     "reg_" + id,
		TrackingID: id,
		Email:      id + "@example.com",
		Phone:      "+254712345678",
		TargetTier: tier.Champion,
		CreatedAt:  t0,
		ExpiresAt:  t0.Add(10 * time.Minute),
	}
}

func TestMemoryResolveOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreatePending(ctx, pendingTxn("a")))
	assert.ErrorIs(t, repo.CreatePending(ctx, pendingTxn("a")), payment.ErrDuplicateTrackingID)

	prior, err := repo.Resolve(ctx, "a", payment.StateSuccess, t0)
	require.NoError(t, err)
	assert.Equal(t, payment.StateInitiated, prior)

	prior, err = repo.Resolve(ctx, "a", payment.StateFailed, t0)
	assert.ErrorIs(t, err, payment.ErrAlreadyResolved)
	assert.Equal(t, payment.StateSuccess, prior)

	_, err = repo.Resolve(ctx, "missing", payment.StateSuccess, t0)
	assert.ErrorIs(t, err, payment.ErrUnknownTransaction)
}

func TestMemoryResolveRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreatePending(ctx, pendingTxn("a")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = repo.Resolve(ctx, "a", payment.StateSuccess, t0)
			} else {
				var swept []payment.Transaction
				swept, err = repo.Sweep(ctx, t0.Add(time.Hour))
				if err == nil && len(swept) == 0 {
					err = payment.ErrAlreadyResolved
				}
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemorySweepRespectsExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreatePending(ctx, pendingTxn("a")))

	swept, err := repo.Sweep(ctx, t0.Add(10*time.Minute-time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, swept)

	swept, err = repo.Sweep(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, payment.StateTimedOut, swept[0].State)

	prior, err := repo.Reinstate(ctx, "a", t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, payment.StateTimedOut, prior)
	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, payment.StateSuccess, got.State)
}

func TestMemoryUnapplied(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreatePending(ctx, pendingTxn("a")))
	require.NoError(t, repo.CreatePending(ctx, pendingTxn("b")))
	_, err := repo.Resolve(ctx, "a", payment.StateSuccess, t0)
	require.NoError(t, err)
	_, err = repo.Resolve(ctx, "b", payment.StateFailed, t0)
	require.NoError(t, err)

	list, err := repo.ListUnapplied(ctx, t0.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = repo.ListUnapplied(ctx, t0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].TrackingID)

	require.NoError(t, repo.MarkApplied(ctx, "a", 42, t0))
	list, err = repo.ListUnapplied(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, repo.MarkApplied(ctx, "zzz", 1, t0), payment.ErrUnknownTransaction)
}

func TestMemoryRegistrationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateRegistration(ctx, pendingReg("a")))

	_, err := repo.ClaimRegistration(ctx, "a", t0)
	assert.ErrorIs(t, err, payment.ErrPaymentNotConfirmed)

	require.NoError(t, repo.ConfirmRegistration(ctx, "a", t0.Add(time.Minute)))
	reg, err := repo.ClaimRegistration(ctx, "a", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", reg.Email)

	_, err = repo.ClaimRegistration(ctx, "a", t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, payment.ErrUnknownTransaction)
}

func TestMemoryRegistrationExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateRegistration(ctx, pendingReg("a")))
	require.NoError(t, repo.CreateRegistration(ctx, pendingReg("b")))

	expiry := t0.Add(10 * time.Minute)
	assert.ErrorIs(t, repo.ConfirmRegistration(ctx, "a", expiry), payment.ErrExpiredRegistration)

	deleted, err := repo.DeleteExpiredRegistrations(ctx, expiry.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, deleted)

	deleted, err = repo.DeleteExpiredRegistrations(ctx, expiry)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	_, err = repo.GetRegistration(ctx, "a")
	assert.ErrorIs(t, err, payment.ErrUnknownTransaction)
}

func newMockRepo(t *testing.T) (*PaymentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPaymentRepository(sqlx.NewDb(db, "postgres")), mock
}

var txnCols = []string{
	"tracking_id", "kind", "user_id", "target_tier", "amount", "currency", "channel", "reference",
	"state", "initiated_at", "expires_at", "resolved_at", "applied_at",
}

func txnRow(rows *sqlmock.Rows, id, state string) *sqlmock.Rows {
	return rows.AddRow(id, "upgrade", int64(42), "champion", "150.00", "KES", "254712345678", "ref",
		state, t0, t0.Add(10*time.Minute), nil, nil)
}

func TestPostgresCreatePendingDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO pending_transactions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreatePending(context.Background(), pendingTxn("a"))
	assert.ErrorIs(t, err, payment.ErrDuplicateTrackingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveWins(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE tracking_id = $1 AND state = $2")).
		WithArgs("a", "INITIATED", "SUCCESS", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prior, err := repo.Resolve(context.Background(), "a", payment.StateSuccess, t0)
	require.NoError(t, err)
	assert.Equal(t, payment.StateInitiated, prior)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveLoses(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE pending_transactions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM pending_transactions").
		WithArgs("a").
		WillReturnRows(txnRow(sqlmock.NewRows(txnCols), "a", "TIMED_OUT"))

	prior, err := repo.Resolve(context.Background(), "a", payment.StateSuccess, t0)
	assert.ErrorIs(t, err, payment.ErrAlreadyResolved)
	assert.Equal(t, payment.StateTimedOut, prior)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveUnknown(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE pending_transactions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM pending_transactions").WillReturnRows(sqlmock.NewRows(txnCols))

	_, err := repo.Resolve(context.Background(), "nope", payment.StateSuccess, t0)
	assert.ErrorIs(t, err, payment.ErrUnknownTransaction)
}

func TestPostgresSweep(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE state = 'INITIATED' AND expires_at <= $1")).
		WithArgs(t0).
		WillReturnRows(txnRow(sqlmock.NewRows(txnCols), "a", "TIMED_OUT"))

	swept, err := repo.Sweep(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, payment.StateTimedOut, swept[0].State)
	assert.True(t, decimal.NewFromInt(150).Equal(swept[0].Amount))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimRegistrationNotConfirmed(t *testing.T) {
	repo, mock := newMockRepo(t)
	cols := []string{"temp_id", "tracking_id", "email", "phone", "full_name", "target_tier",
		"created_at", "expires_at", "payment_confirmed_at"}

	mock.ExpectQuery("DELETE FROM pending_registrations").WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("SELECT (.+) FROM pending_registrations").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("reg_1", "a", "a@example.com", "+254712345678", "", "champion", t0, t0.Add(10*time.Minute), nil))

	_, err := repo.ClaimRegistration(context.Background(), "a", t0.Add(time.Minute))
	assert.ErrorIs(t, err, payment.ErrPaymentNotConfirmed)
	require.NoError(t, mock.ExpectationsWereMet())
}
