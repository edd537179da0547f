// pkg/middleware/validation.go

package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorResponse стандартный формат ошибок API
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

const maxBodySize = 1 << 20 // 1 MB

// ValidateRequest проверяет Content-Type и ограничивает размер тела
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				WriteError(w, http.StatusUnsupportedMediaType, "expected application/json")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteFieldError для ошибок валидации конкретного поля
func WriteFieldError(w http.ResponseWriter, status int, field, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Field: field})
}
