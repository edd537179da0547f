package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyalog/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *IntaSend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewIntaSend(IntaSendConfig{
		BaseURL:        srv.URL + "/",
		SecretKey:      "sk_test",
		PublishableKey: "pk_test",
	}, logger.Discard())
}

func pushReq() PushRequest {
	return PushRequest{
		Channel:   "+254712345678",
		Amount:    decimal.NewFromInt(150),
		Currency:  "KES",
		Reference: "ref-1",
		Narrative: "Upgrade to champion",
	}
}

func TestIntaSendPushAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stkPushPath, r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pk_test", r.Header.Get("X-IntaSend-Public-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "254712345678", body["phone_number"])
		assert.Equal(t, "ref-1", body["api_ref"])
		assert.EqualValues(t, 150, body["amount"])

		w.Write([]byte(`{"invoice":{"invoice_id":"INV123","state":"PENDING"}}`))
	})

	res, err := client.Push(context.Background(), pushReq())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "INV123", res.TrackingID)
}

func TestIntaSendPushPrefersTrackingID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tracking_id":"tx1","status":"PENDING","message":"check your phone"}`))
	})

	res, err := client.Push(context.Background(), pushReq())
	require.NoError(t, err)
	assert.Equal(t, "tx1", res.TrackingID)
	assert.Equal(t, "check your phone", res.Message)
}

func TestIntaSendPushErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, ErrAuthenticationFailed},
		{"server error", http.StatusBadGateway, ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := client.Push(context.Background(), pushReq())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIntaSendPushRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"detail":"amount too low"}]}`))
	})

	res, err := client.Push(context.Background(), pushReq())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Message, "amount too low")
}

func TestIntaSendInvalidChannelSkipsNetwork(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	req := pushReq()
	req.Channel = "12345"
	_, err := client.Push(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestIntaSendBreakerOpensAfterOutage(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := client.Push(context.Background(), pushReq())
		require.ErrorIs(t, err, ErrGatewayUnavailable)
	}
	_, err := client.Push(context.Background(), pushReq())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
}
