package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"afyalog/internal/subscription"
)

type SubscriptionRepository struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Get(ctx context.Context, userID int64) (*subscription.Record, error) {
	rec := &subscription.Record{}
	err := r.db.GetContext(ctx, rec,
		`SELECT user_id, tier, period_start, period_end, cancel_at_period_end,
		        external_subscription_id, external_customer_id, tracking_id, version, updated_at
		 FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, errors.Wrap(err, "get subscription")
	}
	return rec, nil
}

// Put writes rec guarded by its version: 0 inserts, anything else must match
// the stored row.
func (r *SubscriptionRepository) Put(ctx context.Context, rec *subscription.Record) error {
	var (
		res sql.Result
		err error
	)
	if rec.Version == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO subscriptions (user_id, tier, period_start, period_end, cancel_at_period_end,
			        external_subscription_id, external_customer_id, tracking_id, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
			 ON CONFLICT (user_id) DO NOTHING`,
			rec.UserID, rec.Tier, rec.PeriodStart, rec.PeriodEnd, rec.CancelAtPeriodEnd,
			rec.ExternalSubscriptionID, rec.ExternalCustomerID, rec.TrackingID, rec.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE subscriptions
			 SET tier = $2, period_start = $3, period_end = $4, cancel_at_period_end = $5,
			     external_subscription_id = $6, external_customer_id = $7, tracking_id = $8,
			     version = version + 1, updated_at = $9
			 WHERE user_id = $1 AND version = $10`,
			rec.UserID, rec.Tier, rec.PeriodStart, rec.PeriodEnd, rec.CancelAtPeriodEnd,
			rec.ExternalSubscriptionID, rec.ExternalCustomerID, rec.TrackingID, rec.UpdatedAt, rec.Version)
	}
	if err != nil {
		return errors.Wrap(err, "put subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "put subscription")
	}
	if n == 0 {
		return subscription.ErrWriteConflict
	}
	rec.Version++
	return nil
}
