package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"afyalog/internal/tier"
)

// State of a pending push transaction. INITIATED is the only non-terminal state.
type State string

const (
	StateInitiated State = "INITIATED"
	StateSuccess   State = "SUCCESS"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateTimedOut
}

// Kind tells which flow started the transaction.
type Kind string

const (
	KindUpgrade      Kind = "upgrade"
	KindRegistration Kind = "registration"
)

// Transaction is a push payment waiting for (or resolved by) its callback.
type Transaction struct {
	TrackingID  string          `json:"tracking_id" db:"tracking_id"`
	Kind        Kind            `json:"kind" db:"kind"`
	UserID      *int64          `json:"user_id,omitempty" db:"user_id"`
	TargetTier  tier.Tier       `json:"target_tier" db:"target_tier"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Channel     string          `json:"channel" db:"channel"`
	Reference   string          `json:"reference" db:"reference"`
	State       State           `json:"state" db:"state"`
	InitiatedAt time.Time       `json:"initiated_at" db:"initiated_at"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	AppliedAt   *time.Time      `json:"applied_at,omitempty" db:"applied_at"`
}

// Registration is a pre-account signup waiting for its payment.
type Registration struct {
	TempID             string     `json:"temp_id" db:"temp_id"`
	TrackingID         string     `json:"tracking_id" db:"tracking_id"`
	Email              string     `json:"email" db:"email"`
	Phone              string     `json:"phone" db:"phone"`
	FullName           string     `json:"full_name" db:"full_name"`
	TargetTier         tier.Tier  `json:"target_tier" db:"target_tier"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at" db:"expires_at"`
	PaymentConfirmedAt *time.Time `json:"payment_confirmed_at,omitempty" db:"payment_confirmed_at"`
}

// Expired is true from ExpiresAt onwards.
func (r *Registration) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Registration) Confirmed() bool {
	return r.PaymentConfirmedAt != nil
}
