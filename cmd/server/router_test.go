package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyalog/internal/config"
	"afyalog/internal/gateway"
)

func testApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		StorageDriver:     "memory",
		GatewayMode:       "sandbox",
		JWTSecret:         "test-secret",
		CORSOrigins:       "http://localhost:3000",
		PaymentTTL:        10 * time.Minute,
		RegistrationTTL:   10 * time.Minute,
		ReconcileInterval: time.Minute,
		LateSuccessPolicy: "reject",
		WebhookChallenge:  "s3cret",
		APIRateLimit:      1,
		APIBurst:          3,
		WebhookRateLimit:  50,
		WebhookBurst:      200,
		BcryptCost:        4,
	}
	require.NoError(t, cfg.Validate())

	base := logrus.New()
	base.SetOutput(io.Discard)

	st, err := openStores(cfg, logrus.NewEntry(base))
	require.NoError(t, err)
	return newApp(cfg, st, gateway.NewSandbox(), base)
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestCallbackBurstIsNotThrottled(t *testing.T) {
	a := testApp(t)

	for i := 0; i < 60; i++ {
		code := postJSON(t, a.router, "/api/payments/callback", map[string]string{
			"tracking_id": "unknown",
			"status":      "COMPLETE",
			"challenge":   "s3cret",
		})
		require.Equal(t, http.StatusNotFound, code, "callback %d", i)
	}
}

func TestLoginThrottlingLeavesCallbacksAlone(t *testing.T) {
	a := testApp(t)
	login := map[string]string{"email": "nobody@example.com", "password": "secret1"}

	throttled := false
	for i := 0; i < 10 && !throttled; i++ {
		throttled = postJSON(t, a.router, "/auth/login", login) == http.StatusTooManyRequests
	}
	require.True(t, throttled, "login was never rate limited")

	code := postJSON(t, a.router, "/api/payments/callback", map[string]string{
		"tracking_id": "unknown",
		"status":      "COMPLETE",
		"challenge":   "s3cret",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Len(t, a.limiters, 2)
}
