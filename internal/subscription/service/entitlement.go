package service

import (
	"context"
	"time"

	"afyalog/internal/subscription"
	"afyalog/internal/tier"
)

// Entitlements answers read-only access questions for feature gating.
type Entitlements struct {
	ledger  *Ledger
	catalog *tier.Catalog
}

func NewEntitlements(ledger *Ledger, catalog *tier.Catalog) *Entitlements {
	return &Entitlements{ledger: ledger, catalog: catalog}
}

func (e *Entitlements) GetStatus(ctx context.Context, userID int64) (subscription.TierStatus, error) {
	return e.ledger.GetStatus(ctx, userID, e.ledger.now())
}

func (e *Entitlements) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	return e.ledger.HasActiveSubscription(ctx, userID)
}

// Features lists what the user may use now. A lapsed premium user gets the free set.
func (e *Entitlements) Features(ctx context.Context, userID int64) ([]string, error) {
	rec, err := e.ledger.Record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.catalog.Features(rec.EffectiveTier(e.ledger.now())), nil
}

// HasFeature is a convenience over Features.
func (e *Entitlements) HasFeature(ctx context.Context, userID int64, feature string) (bool, error) {
	features, err := e.Features(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, f := range features {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}

// At reports the status as of a specific instant.
func (e *Entitlements) At(ctx context.Context, userID int64, at time.Time) (subscription.TierStatus, error) {
	return e.ledger.GetStatus(ctx, userID, at)
}
