package handler

import (
	"net/http"

	"github.com/debacu/backend/internal/contextkeys"
	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/internal/service"
)

// SubscriptionHandler handles subscription lifecycle HTTP endpoints.
type SubscriptionHandler struct {
	subs *service.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subs *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

// Change handles POST /api/subscription. A second change request while one
// is in flight returns 409 with the existing pending id.
func (h *SubscriptionHandler) Change(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.AccountID).(string)
	if !ok || accountID == "" {
		Error(w, domain.ErrUnauthorized("not authenticated"))
		return
	}

	var req domain.ChangePlanRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	result, err := h.subs.RequestPlanChange(r.Context(), accountID, &req)
	if err != nil {
		Error(w, err)
		return
	}
	if result.Conflict != nil {
		JSON(w, http.StatusConflict, map[string]interface{}{
			"error":                 "a plan change is already in progress",
			"pendingSubscriptionId": result.Conflict.PendingSubscriptionID,
		})
		return
	}

	JSON(w, http.StatusOK, result.Checkout)
}

// Get handles GET /api/subscription.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.AccountID).(string)
	if !ok || accountID == "" {
		Error(w, domain.ErrUnauthorized("not authenticated"))
		return
	}

	overview, err := h.subs.GetOverview(r.Context(), accountID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, overview)
}

// StartTrial handles POST /api/subscription/trial.
func (h *SubscriptionHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.AccountID).(string)
	if !ok || accountID == "" {
		Error(w, domain.ErrUnauthorized("not authenticated"))
		return
	}

	sub, err := h.subs.StartTrial(r.Context(), accountID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, sub)
}
