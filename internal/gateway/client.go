// Package gateway talks to the mobile-money push payment provider.
//
// A push asks the provider to prompt the payer's phone; the outcome arrives
// later as a separate callback. Clients never retry a push themselves: a
// retried charge initiation can bill the payer twice, so the caller decides.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidChannel       = errors.New("gateway: invalid payer channel")
	ErrGatewayUnavailable   = errors.New("gateway: unavailable")
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
)

type PushRequest struct {
	Channel   string
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Narrative string
}

type PushResult struct {
	TrackingID string
	Accepted   bool
	Message    string
}

type Client interface {
	Push(ctx context.Context, req PushRequest) (*PushResult, error)
}
