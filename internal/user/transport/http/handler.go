package http

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"afyalog/internal/api/dto"
	"afyalog/internal/user"
	"afyalog/internal/user/service"
	"afyalog/pkg/hash"
	"afyalog/pkg/middleware"
)

type Handler struct {
	UserService *service.UserService
	JWT         *service.JWTManager
}

func NewHandler(us *service.UserService, jwt *service.JWTManager) *Handler {
	return &Handler{
		UserService: us,
		JWT:         jwt,
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.UserService.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		FullName: req.FullName,
		Password: req.Password,
	})
	if errors.Is(err, user.ErrUserExists) {
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, hash.ErrPasswordTooLong) {
		middleware.WriteFieldError(w, http.StatusBadRequest, "password", err.Error())
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	u, err := h.UserService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.JWT.Generate(u)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
		"token": token,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(middleware.UserIDKey).(int64)

	u, err := h.UserService.GetByID(r.Context(), userID)
	if errors.Is(err, user.ErrUserNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, u)
}
