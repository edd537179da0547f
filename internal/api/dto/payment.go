package dto

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

type UpgradeRequest struct {
	Tier  string `json:"tier" validate:"required"`
	Phone string `json:"phone" validate:"omitempty,ke_phone"`
}

type StartRegistrationRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,ke_phone"`
	FullName string `json:"full_name" validate:"max=120"`
	Tier     string `json:"tier" validate:"required"`
}

type CompleteRegistrationRequest struct {
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type SetTierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

// CallbackRequest is the gateway webhook body. IntaSend sends invoice_id and
// state; older integrations send tracking_id and status.
type CallbackRequest struct {
	TrackingID string           `json:"tracking_id" validate:"required_without=InvoiceID"`
	InvoiceID  string           `json:"invoice_id"`
	Status     string           `json:"status" validate:"required_without=State"`
	State      string           `json:"state"`
	Amount     *decimal.Decimal `json:"amount"`
	Currency   string           `json:"currency" validate:"omitempty,len=3"`
	Challenge  string           `json:"challenge"`
	Metadata   CallbackMetadata `json:"metadata"`
}

type CallbackMetadata struct {
	UserID     json.Number `json:"user_id,omitempty"`
	TargetTier string      `json:"target_tier,omitempty"`
}

func (c *CallbackRequest) ID() string {
	if c.TrackingID != "" {
		return c.TrackingID
	}
	return c.InvoiceID
}

// Outcome maps the gateway status. The second value is false for
// intermediate states that must not resolve anything.
func (c *CallbackRequest) Outcome() (success bool, final bool) {
	status := c.Status
	if status == "" {
		status = c.State
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "COMPLETE", "COMPLETED":
		return true, true
	case "FAILED", "FAILURE", "CANCELLED", "CANCELED", "REJECTED":
		return false, true
	}
	return false, false
}
