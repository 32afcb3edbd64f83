package handler

import (
	"net/http"

	"github.com/debacu/backend/internal/contextkeys"
	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/internal/service"
)

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.AccountID).(string)
	if !ok || accountID == "" {
		Error(w, domain.ErrUnauthorized("not authenticated"))
		return
	}

	account, err := h.auth.GetAccountByID(r.Context(), accountID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, account)
}
