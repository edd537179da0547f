package payment

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"afyalog/internal/subscription"
)

var (
	ErrValidation          = errors.New("payment: validation failed")
	ErrGateway             = errors.New("payment: gateway error")
	ErrUnknownTransaction  = errors.New("payment: unknown transaction")
	ErrAlreadyResolved     = errors.New("payment: transaction already resolved")
	ErrExpiredRegistration = errors.New("payment: registration expired")
	ErrDuplicateTrackingID = errors.New("payment: duplicate tracking id")
	ErrPaymentNotConfirmed = errors.New("payment: payment not confirmed")
	ErrUserNotFound        = errors.New("payment: user not found")
	ErrNotOwner            = errors.New("payment: transaction belongs to another user")
	ErrPushRejected        = errors.New("payment: push rejected by gateway")
)

// ValidationError is a user-fixable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// GatewayError wraps a push failure surfaced to the caller. It is never
// retried automatically.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return "payment: gateway: " + e.Err.Error() }

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// IsNoop reports outcomes that mean "nothing left to do".
func IsNoop(err error) bool {
	return errors.Is(err, ErrAlreadyResolved)
}

// IsRetryable reports transient failures the caller (or the gateway, by
// redelivering a callback) may try again.
func IsRetryable(err error) bool {
	return errors.Is(err, subscription.ErrLedgerWriteConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}
