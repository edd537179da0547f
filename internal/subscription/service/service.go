package service

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"afyalog/internal/metrics"
	"afyalog/internal/subscription"
	"afyalog/internal/tier"
)

// Ledger is the authoritative per-user subscription state. Every write is a
// read-modify-CAS loop on the record version.
type Ledger struct {
	store       subscription.Store
	catalog     *tier.Catalog
	log         *logrus.Entry
	now         func() time.Time
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithCatalog(c *tier.Catalog) Option {
	return func(l *Ledger) { l.catalog = c }
}

// WithRetry bounds conflict retries.
func WithRetry(attempts int, min, max time.Duration) Option {
	return func(l *Ledger) {
		l.maxAttempts = attempts
		l.backoffMin = min
		l.backoffMax = max
	}
}

func NewLedger(store subscription.Store, log *logrus.Entry, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		catalog:     tier.NewCatalog(),
		log:         log,
		now:         time.Now,
		maxAttempts: 5,
		backoffMin:  20 * time.Millisecond,
		backoffMax:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyTierChange moves the user to t. Premium tiers start a one-month period
// at now, free clears the period. Replaying the same tier with the same
// tracking id changes nothing.
func (l *Ledger) ApplyTierChange(ctx context.Context, userID int64, t tier.Tier, ids subscription.ExternalIDs) (*subscription.ChangeResult, error) {
	if err := checkTier(t); err != nil {
		return nil, err
	}

	rec, applied, err := l.update(ctx, userID, func(rec *subscription.Record, now time.Time) (bool, error) {
		if rec.Version != 0 && rec.Tier == t && rec.TrackingID == ids.TrackingID {
			return false, nil
		}
		setTier(rec, t, ids, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.TierChangesTotal.WithLabelValues(string(t)).Inc()
		l.log.WithFields(logrus.Fields{
			"user_id":     userID,
			"tier":        t,
			"tracking_id": ids.TrackingID,
		}).Info("tier change applied")
	}
	return &subscription.ChangeResult{Applied: applied, Record: rec}, nil
}

// ApplyPurchase applies a paid tier like ApplyTierChange, except that it never
// moves an active subscription to a lower rank. That case returns
// ErrSuperseded and leaves the record untouched.
func (l *Ledger) ApplyPurchase(ctx context.Context, userID int64, t tier.Tier, ids subscription.ExternalIDs) (*subscription.ChangeResult, error) {
	if err := checkTier(t); err != nil {
		return nil, err
	}

	rec, applied, err := l.update(ctx, userID, func(rec *subscription.Record, now time.Time) (bool, error) {
		if rec.Version != 0 && rec.Tier == t && rec.TrackingID == ids.TrackingID {
			return false, nil
		}
		if rec.StatusAt(now) == subscription.StatusActive && l.catalog.Rank(rec.Tier) > l.catalog.Rank(t) {
			return false, subscription.ErrSuperseded
		}
		setTier(rec, t, ids, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.TierChangesTotal.WithLabelValues(string(t)).Inc()
		l.log.WithFields(logrus.Fields{
			"user_id":     userID,
			"tier":        t,
			"tracking_id": ids.TrackingID,
		}).Info("purchased tier applied")
	}
	return &subscription.ChangeResult{Applied: applied, Record: rec}, nil
}

// SetTier is the admin override. It may downgrade and always rewrites the period.
func (l *Ledger) SetTier(ctx context.Context, userID int64, t tier.Tier) (*subscription.Record, error) {
	if err := checkTier(t); err != nil {
		return nil, err
	}
	rec, _, err := l.update(ctx, userID, func(rec *subscription.Record, now time.Time) (bool, error) {
		setTier(rec, t, subscription.ExternalIDs{}, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TierChangesTotal.WithLabelValues(string(t)).Inc()
	l.log.WithFields(logrus.Fields{"user_id": userID, "tier": t}).Warn("tier set by admin")
	return rec, nil
}

// Provision creates the free record for a new account. Existing records are left alone.
func (l *Ledger) Provision(ctx context.Context, userID int64) (*subscription.Record, error) {
	rec, _, err := l.update(ctx, userID, func(rec *subscription.Record, now time.Time) (bool, error) {
		return rec.Version == 0, nil
	})
	return rec, err
}

// Cancel keeps the current period but stops it from renewing.
func (l *Ledger) Cancel(ctx context.Context, userID int64) (*subscription.Record, error) {
	return l.setCancel(ctx, userID, true)
}

func (l *Ledger) Reactivate(ctx context.Context, userID int64) (*subscription.Record, error) {
	return l.setCancel(ctx, userID, false)
}

func (l *Ledger) setCancel(ctx context.Context, userID int64, cancel bool) (*subscription.Record, error) {
	rec, _, err := l.update(ctx, userID, func(rec *subscription.Record, now time.Time) (bool, error) {
		if rec.StatusAt(now) != subscription.StatusActive {
			return false, subscription.ErrNotPremium
		}
		if rec.CancelAtPeriodEnd == cancel {
			return false, nil
		}
		rec.CancelAtPeriodEnd = cancel
		return true, nil
	})
	return rec, err
}

func (l *Ledger) GetStatus(ctx context.Context, userID int64, now time.Time) (subscription.TierStatus, error) {
	rec, err := l.record(ctx, userID)
	if err != nil {
		return subscription.TierStatus{}, err
	}
	return subscription.TierStatus{Tier: rec.Tier, Status: rec.StatusAt(now)}, nil
}

func (l *Ledger) GetSubscriptionDetails(ctx context.Context, userID int64) (*subscription.Details, error) {
	rec, err := l.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &subscription.Details{
		Tier:              rec.Tier,
		Status:            rec.StatusAt(l.now()),
		PeriodStart:       rec.PeriodStart,
		PeriodEnd:         rec.PeriodEnd,
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
		TrackingID:        rec.TrackingID,
	}, nil
}

func (l *Ledger) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	st, err := l.GetStatus(ctx, userID, l.now())
	if err != nil {
		return false, err
	}
	return st.Status == subscription.StatusActive, nil
}

// Record returns the stored row, or an unsaved free record when there is none.
func (l *Ledger) Record(ctx context.Context, userID int64) (*subscription.Record, error) {
	return l.record(ctx, userID)
}

func (l *Ledger) record(ctx context.Context, userID int64) (*subscription.Record, error) {
	rec, err := l.store.Get(ctx, userID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return &subscription.Record{UserID: userID, Tier: tier.Free}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load subscription")
	}
	return rec, nil
}

// update runs mutate against a fresh copy of the record and writes it back,
// retrying with backoff while the version keeps moving underneath.
func (l *Ledger) update(ctx context.Context, userID int64, mutate func(*subscription.Record, time.Time) (bool, error)) (*subscription.Record, bool, error) {
	b := &backoff.Backoff{Min: l.backoffMin, Max: l.backoffMax, Factor: 2, Jitter: true}

	for attempt := 1; ; attempt++ {
		rec, err := l.record(ctx, userID)
		if err != nil {
			return nil, false, err
		}

		now := l.now()
		changed, err := mutate(rec, now)
		if err != nil || !changed {
			return rec, false, err
		}
		rec.UpdatedAt = now

		err = l.store.Put(ctx, rec)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, subscription.ErrWriteConflict) {
			return nil, false, errors.Wrap(err, "write subscription")
		}

		metrics.LedgerConflictsTotal.Inc()
		if attempt >= l.maxAttempts {
			l.log.WithField("user_id", userID).Error("ledger write conflict, retries exhausted")
			return nil, false, subscription.ErrLedgerWriteConflict
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func setTier(rec *subscription.Record, t tier.Tier, ids subscription.ExternalIDs, now time.Time) {
	rec.Tier = t
	rec.TrackingID = ids.TrackingID
	rec.CancelAtPeriodEnd = false
	if ids.SubscriptionID != "" {
		rec.ExternalSubscriptionID = ids.SubscriptionID
	}
	if ids.CustomerID != "" {
		rec.ExternalCustomerID = ids.CustomerID
	}

	if !t.IsPremium() {
		rec.PeriodStart, rec.PeriodEnd = nil, nil
		return
	}
	start := now
	end := now.AddDate(0, 1, 0)
	rec.PeriodStart, rec.PeriodEnd = &start, &end
}

func checkTier(t tier.Tier) error {
	if parsed, ok := tier.Parse(string(t)); !ok || parsed != t {
		return tier.ErrUnknownTier
	}
	return nil
}
