package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"afyalog/internal/api/dto"
	"afyalog/internal/payment"
	"afyalog/internal/payment/service"
	"afyalog/internal/tier"
	usersvc "afyalog/internal/user/service"
	"afyalog/pkg/middleware"
)

type Handler struct {
	Orchestrator     *service.Orchestrator
	Reconciler       *service.Reconciler
	JWT              *usersvc.JWTManager
	WebhookChallenge string
	Log              *logrus.Entry
}

func NewHandler(o *service.Orchestrator, r *service.Reconciler, jwt *usersvc.JWTManager, challenge string, log *logrus.Entry) *Handler {
	return &Handler{Orchestrator: o, Reconciler: r, JWT: jwt, WebhookChallenge: challenge, Log: log}
}

func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	var req dto.UpgradeRequest
	if !decode(w, r, &req) {
		return
	}
	t, ok := tier.Parse(req.Tier)
	if !ok {
		middleware.WriteFieldError(w, http.StatusUnprocessableEntity, "tier", "unknown tier")
		return
	}

	res, err := h.Orchestrator.InitiateUpgrade(r.Context(), userID, t, req.Phone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, res)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	txn, err := h.Orchestrator.TransactionStatus(r.Context(), chi.URLParam(r, "tracking_id"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, txn)
}

func (h *Handler) StartRegistration(w http.ResponseWriter, r *http.Request) {
	var req dto.StartRegistrationRequest
	if !decode(w, r, &req) {
		return
	}
	t, ok := tier.Parse(req.Tier)
	if !ok {
		middleware.WriteFieldError(w, http.StatusUnprocessableEntity, "tier", "unknown tier")
		return
	}

	res, err := h.Orchestrator.InitiateRegistration(r.Context(), service.RegistrationInput{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:    req.Phone,
		FullName: strings.TrimSpace(req.FullName),
		Tier:     t,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if !res.RequiresPayment {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, res)
}

func (h *Handler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req dto.CompleteRegistrationRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Orchestrator.CompleteRegistration(r.Context(), chi.URLParam(r, "tracking_id"), req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.JWT.Generate(res.User)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      res.User.ID,
		"email":   res.User.Email,
		"tier":    res.Tier,
		"applied": res.Applied,
		"token":   token,
	})
}

// Callback is the gateway webhook. Anything but 5xx tells the gateway to stop
// redelivering, so only failures worth a retry map to 503.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var req dto.CallbackRequest
	if !decode(w, r, &req) {
		return
	}

	if h.WebhookChallenge != "" &&
		subtle.ConstantTimeCompare([]byte(req.Challenge), []byte(h.WebhookChallenge)) != 1 {
		h.Log.WithField("tracking_id", req.ID()).Warn("callback challenge mismatch")
		middleware.WriteError(w, http.StatusUnauthorized, "challenge mismatch")
		return
	}

	success, final := req.Outcome()
	if !final {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	cb := service.Callback{
		TrackingID: req.ID(),
		Success:    success,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(req.Currency),
		TargetTier: req.Metadata.TargetTier,
	}
	if req.Metadata.UserID != "" {
		id, err := req.Metadata.UserID.Int64()
		if err != nil {
			middleware.WriteFieldError(w, http.StatusBadRequest, "metadata.user_id", "must be an integer")
			return
		}
		cb.UserID = &id
	}

	res, err := h.Orchestrator.HandleCallback(r.Context(), cb)
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, payment.ErrAlreadyResolved):
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "already_resolved"})
	case errors.Is(err, payment.ErrUnknownTransaction),
		errors.Is(err, payment.ErrExpiredRegistration),
		errors.Is(err, payment.ErrValidation):
		h.writeError(w, err)
	default:
		h.Log.WithError(err).WithField("tracking_id", cb.TrackingID).Error("callback handling failed")
		middleware.WriteError(w, http.StatusServiceUnavailable, "try again later")
	}
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *payment.ValidationError
	switch {
	case errors.As(err, &verr):
		middleware.WriteFieldError(w, http.StatusUnprocessableEntity, verr.Field, verr.Message)
	case errors.Is(err, payment.ErrGateway):
		middleware.WriteError(w, http.StatusBadGateway, "payment provider unavailable, try again")
	case errors.Is(err, payment.ErrUserNotFound),
		errors.Is(err, payment.ErrUnknownTransaction),
		errors.Is(err, payment.ErrNotOwner):
		middleware.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, payment.ErrExpiredRegistration):
		middleware.WriteError(w, http.StatusGone, "registration expired")
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		middleware.WriteError(w, http.StatusConflict, "payment not confirmed yet")
	case payment.IsRetryable(err):
		middleware.WriteError(w, http.StatusServiceUnavailable, "try again later")
	default:
		h.Log.WithError(err).Error("request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := dto.Validate.Struct(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
