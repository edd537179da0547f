package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afyalog/pkg/jwt"
	"afyalog/pkg/logger"
)

const secret = "test-secret"

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, _ := UserID(r.Context())
	WriteJSON(w, http.StatusOK, map[string]int64{"user_id": id})
}

func TestJWTAuth(t *testing.T) {
	h := JWTAuth(secret)(http.HandlerFunc(echoUser))

	token, err := jwt.GenerateToken(secret, 42, "a@example.com", false, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":42}`, rec.Body.String())

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	other, err := jwt.GenerateToken("other-secret", 42, "a@example.com", false, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredToken(t *testing.T) {
	token, err := jwt.GenerateToken(secret, 42, "a@example.com", false, -time.Minute)
	require.NoError(t, err)
	_, err = jwt.ParseToken(secret, token)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestRequireAdmin(t *testing.T) {
	h := JWTAuth(secret)(RequireAdmin(http.HandlerFunc(echoUser)))

	for _, tc := range []struct {
		admin bool
		want  int
	}{{false, http.StatusForbidden}, {true, http.StatusOK}} {
		token, err := jwt.GenerateToken(secret, 1, "root@example.com", tc.admin, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code)
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	h := rl.Middleware(http.HandlerFunc(echoUser))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))

	rl.Cleanup(-time.Second)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1003"))
}

func TestBasicAuth(t *testing.T) {
	h := BasicAuth("prom", "pw")(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "pw")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateRequestRejectsForm(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(echoUser))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
