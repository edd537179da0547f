package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"afyalog/internal/metrics"
)

const stkPushPath = "/v1/payment/collection/stk-push/"

type IntaSendConfig struct {
	BaseURL        string
	SecretKey      string
	PublishableKey string
	Timeout        time.Duration
}

// IntaSend is a Client for the IntaSend M-Pesa STK push API.
type IntaSend struct {
	cfg     IntaSendConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry
}

func NewIntaSend(cfg IntaSendConfig, log *logrus.Entry) *IntaSend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &IntaSend{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intasend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only outages trip the breaker; a rejected phone number is the payer's problem.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrGatewayUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("gateway circuit breaker state changed")
		},
	})
	return c
}

type stkPushRequest struct {
	PhoneNumber string      `json:"phone_number"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency,omitempty"`
	APIRef      string      `json:"api_ref"`
	Narrative   string      `json:"narrative,omitempty"`
}

type stkPushResponse struct {
	TrackingID string `json:"tracking_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Invoice    *struct {
		InvoiceID     string `json:"invoice_id"`
		State         string `json:"state"`
		FailedReason  string `json:"failed_reason"`
		FailedMessage string `json:"failed_message"`
	} `json:"invoice"`
}

func (c *IntaSend) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	channel, err := NormalizeChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.push(ctx, channel, req)
	})
	metrics.GatewayRequestDuration.WithLabelValues("intasend").Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errors.Wrap(ErrGatewayUnavailable, err.Error())
		}
		metrics.GatewayRequestsTotal.WithLabelValues("intasend", resultLabel(err)).Inc()
		return nil, err
	}

	res := out.(*PushResult)
	if res.Accepted {
		metrics.GatewayRequestsTotal.WithLabelValues("intasend", "accepted").Inc()
	} else {
		metrics.GatewayRequestsTotal.WithLabelValues("intasend", "rejected").Inc()
	}
	return res, nil
}

func (c *IntaSend) push(ctx context.Context, channel string, req PushRequest) (*PushResult, error) {
	body, err := json.Marshal(stkPushRequest{
		PhoneNumber: channel,
		Amount:      json.Number(req.Amount.StringFixed(2)),
		Currency:    req.Currency,
		APIRef:      req.Reference,
		Narrative:   req.Narrative,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode push request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build push request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("X-IntaSend-Public-Key", c.cfg.PublishableKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(ErrAuthenticationFailed, "status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrGatewayUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Rejected by the provider (bad amount, blocked number, ...).
		c.log.WithField("status", resp.StatusCode).Warnf("push rejected: %s", truncate(raw, 256))
		return &PushResult{Accepted: false, Message: fmt.Sprintf("gateway rejected push: %s", truncate(raw, 256))}, nil
	}

	var parsed stkPushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, "malformed response: "+err.Error())
	}

	res := &PushResult{TrackingID: parsed.TrackingID, Message: parsed.Message}
	state := parsed.Status
	if parsed.Invoice != nil {
		if res.TrackingID == "" {
			res.TrackingID = parsed.Invoice.InvoiceID
		}
		if state == "" {
			state = parsed.Invoice.State
		}
		if res.Message == "" {
			res.Message = parsed.Invoice.FailedMessage
		}
	}
	res.Accepted = res.TrackingID != "" && !strings.EqualFold(state, "FAILED")
	if res.Message == "" {
		res.Message = "push sent"
	}
	return res, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidChannel):
		return "invalid_channel"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, ErrGatewayUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
