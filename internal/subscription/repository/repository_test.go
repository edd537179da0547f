package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyalog/internal/subscription"
	"afyalog/internal/tier"
)

func newMockRepo(t *testing.T) (*SubscriptionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSubscriptionRepository(sqlx.NewDb(db, "postgres")), mock
}

var recordColumns = []string{
	"user_id", "tier", "period_start", "period_end", "cancel_at_period_end",
	"external_subscription_id", "external_customer_id", "tracking_id", "version", "updated_at",
}

func TestPostgresGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE user_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(int64(7), "champion", start, end, false, "", "", "trk-1", int64(3), start))

	rec, err := repo.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, tier.Champion, rec.Tier)
	assert.Equal(t, end, *rec.PeriodEnd)
	assert.Equal(t, "trk-1", rec.TrackingID)
	assert.EqualValues(t, 3, rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM subscriptions").WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.Get(context.Background(), 1)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestPostgresPutInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &subscription.Record{UserID: 1, Tier: tier.Free, UpdatedAt: time.Now()}
	require.NoError(t, repo.Put(context.Background(), rec))
	assert.EqualValues(t, 1, rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutInsertRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("ON CONFLICT").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &subscription.Record{UserID: 1, Tier: tier.Free}
	assert.ErrorIs(t, repo.Put(context.Background(), rec), subscription.ErrWriteConflict)
	assert.Zero(t, rec.Version)
}

func TestPostgresPutUpdateChecksVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND version = $10")).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false,
			"", "", "trk", sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := &subscription.Record{UserID: 1, Tier: tier.Champion, TrackingID: "trk", Version: 4}
	assert.ErrorIs(t, repo.Put(context.Background(), rec), subscription.ErrWriteConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryPutVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.Get(ctx, 1)
	require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	rec := &subscription.Record{UserID: 1, Tier: tier.Free}
	require.NoError(t, repo.Put(ctx, rec))
	assert.ErrorIs(t, repo.Put(ctx, &subscription.Record{UserID: 1, Tier: tier.Free}), subscription.ErrWriteConflict)

	a, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	b, err := repo.Get(ctx, 1)
	require.NoError(t, err)

	a.Tier = tier.Champion
	require.NoError(t, repo.Put(ctx, a))
	b.Tier = tier.GlobalAdvocate
	assert.ErrorIs(t, repo.Put(ctx, b), subscription.ErrWriteConflict)

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, tier.Champion, got.Tier)
	assert.EqualValues(t, 2, got.Version)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	end := time.Now()
	require.NoError(t, repo.Put(ctx, &subscription.Record{UserID: 1, Tier: tier.Champion, PeriodEnd: &end}))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	*got.PeriodEnd = end.Add(time.Hour)

	again, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.PeriodEnd.Equal(end))
}
