package handler

import (
	"net/http"

	"github.com/debacu/backend/internal/service"
)

// PlansHandler handles plan catalog endpoints.
type PlansHandler struct {
	plans service.PlanStore
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(plans service.PlanStore) *PlansHandler {
	return &PlansHandler{plans: plans}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plans)
}
