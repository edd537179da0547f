package payment

import (
	"context"
	"time"
)

// Store persists pending transactions and registrations keyed by tracking id.
// Every state change is a compare-and-set so a callback and the sweep can race
// on the same row and exactly one of them wins.
type Store interface {
	CreatePending(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, trackingID string) (*Transaction, error)
	// Resolve moves INITIATED to outcome and returns the prior state. A
	// terminal row is left untouched and reported with ErrAlreadyResolved.
	Resolve(ctx context.Context, trackingID string, outcome State, at time.Time) (State, error)
	// Reinstate moves TIMED_OUT to SUCCESS for a late success callback.
	Reinstate(ctx context.Context, trackingID string, at time.Time) (State, error)
	// Sweep times out every INITIATED row whose ExpiresAt is not after now.
	Sweep(ctx context.Context, now time.Time) ([]Transaction, error)
	// AttachUser links a registration payment to the account created for it.
	AttachUser(ctx context.Context, trackingID string, userID int64) error
	MarkApplied(ctx context.Context, trackingID string, userID int64, at time.Time) error
	// ListUnapplied returns SUCCESS rows with a user and no applied grant,
	// resolved at or before olderThan.
	ListUnapplied(ctx context.Context, olderThan time.Time) ([]Transaction, error)

	CreateRegistration(ctx context.Context, reg *Registration) error
	GetRegistration(ctx context.Context, trackingID string) (*Registration, error)
	ConfirmRegistration(ctx context.Context, trackingID string, now time.Time) error
	// ClaimRegistration deletes a confirmed, unexpired registration and returns it.
	ClaimRegistration(ctx context.Context, trackingID string, now time.Time) (*Registration, error)
	DeleteExpiredRegistrations(ctx context.Context, now time.Time) ([]Registration, error)
}
