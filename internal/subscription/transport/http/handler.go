package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"afyalog/internal/api/dto"
	"afyalog/internal/subscription"
	"afyalog/internal/subscription/service"
	"afyalog/internal/tier"
	"afyalog/pkg/middleware"
)

type Handler struct {
	Ledger       *service.Ledger
	Entitlements *service.Entitlements
	Catalog      *tier.Catalog
}

func NewSubscriptionHandler(l *service.Ledger, e *service.Entitlements, c *tier.Catalog) *Handler {
	return &Handler{Ledger: l, Entitlements: e, Catalog: c}
}

func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.Catalog.Plans())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	details, err := h.Ledger.GetSubscriptionDetails(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}
	features, err := h.Entitlements.Features(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": details,
		"features":     features,
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)
	rec, err := h.Ledger.Cancel(r.Context(), userID)
	h.writeRecord(w, rec, err)
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)
	rec, err := h.Ledger.Reactivate(r.Context(), userID)
	h.writeRecord(w, rec, err)
}

// SetTier - админский override, в том числе понижение до free
func (h *Handler) SetTier(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req dto.SetTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, ok := tier.Parse(req.Tier)
	if !ok {
		middleware.WriteFieldError(w, http.StatusUnprocessableEntity, "tier", "unknown tier")
		return
	}

	rec, err := h.Ledger.SetTier(r.Context(), userID, t)
	h.writeRecord(w, rec, err)
}

func (h *Handler) writeRecord(w http.ResponseWriter, rec *subscription.Record, err error) {
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, rec)
	case errors.Is(err, subscription.ErrNotPremium):
		middleware.WriteError(w, http.StatusConflict, "no active premium subscription")
	case errors.Is(err, subscription.ErrLedgerWriteConflict):
		middleware.WriteError(w, http.StatusServiceUnavailable, "try again later")
	default:
		http.Error(w, "failed to update subscription", http.StatusInternalServerError)
	}
}
