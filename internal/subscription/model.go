package subscription

import (
	"context"
	"errors"
	"time"

	"afyalog/internal/tier"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrWriteConflict is returned by a Store when the stored version moved.
	ErrWriteConflict = errors.New("subscription: version conflict")
	// ErrLedgerWriteConflict means the ledger gave up retrying a conflicted write.
	ErrLedgerWriteConflict = errors.New("subscription: ledger write conflict")
	ErrNotPremium          = errors.New("subscription is not premium")
	// ErrSuperseded means a paid tier arrived after the user already holds a
	// higher active tier.
	ErrSuperseded = errors.New("subscription: superseded by a higher active tier")
)

type Status string

const (
	StatusFree     Status = "free"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusInactive Status = "inactive"
)

// Record is the single subscription row of a user.
type Record struct {
	UserID                 int64      `json:"user_id" db:"user_id"`
	Tier                   tier.Tier  `json:"tier" db:"tier"`
	PeriodStart            *time.Time `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd              *time.Time `json:"period_end,omitempty" db:"period_end"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty" db:"external_customer_id"`
	TrackingID             string     `json:"tracking_id,omitempty" db:"tracking_id"`
	Version                int64      `json:"version" db:"version"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// StatusAt derives the subscription status. It is the only place that does.
func StatusAt(t tier.Tier, periodEnd *time.Time, now time.Time) Status {
	if !t.IsPremium() {
		return StatusFree
	}
	if periodEnd == nil {
		return StatusInactive
	}
	if periodEnd.After(now) {
		return StatusActive
	}
	return StatusExpired
}

func (r *Record) StatusAt(now time.Time) Status {
	return StatusAt(r.Tier, r.PeriodEnd, now)
}

// EffectiveTier is the tier whose features the user gets right now.
func (r *Record) EffectiveTier(now time.Time) tier.Tier {
	if r.StatusAt(now) == StatusActive {
		return r.Tier
	}
	return tier.Free
}

// ExternalIDs identifies the payment behind a tier change.
type ExternalIDs struct {
	TrackingID     string
	SubscriptionID string
	CustomerID     string
}

// ChangeResult says whether a write actually happened.
type ChangeResult struct {
	Applied bool
	Record  *Record
}

// TierStatus is the answer to "what tier is this user on".
type TierStatus struct {
	Tier   tier.Tier `json:"tier"`
	Status Status    `json:"status"`
}

type Details struct {
	Tier              tier.Tier  `json:"tier"`
	Status            Status     `json:"status"`
	PeriodStart       *time.Time `json:"period_start,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	TrackingID        string     `json:"tracking_id,omitempty"`
}

// Store persists records with optimistic concurrency. Put inserts when
// rec.Version is 0 and otherwise updates only if the stored version still
// equals rec.Version; either way a lost race is ErrWriteConflict. On success
// rec.Version is advanced.
type Store interface {
	Get(ctx context.Context, userID int64) (*Record, error)
	Put(ctx context.Context, rec *Record) error
}
