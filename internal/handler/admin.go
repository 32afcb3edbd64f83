package handler

import (
	"net/http"
	"strconv"

	"github.com/debacu/backend/internal/service"
)

// AdminHandler exposes the lifecycle event log to operators.
type AdminHandler struct {
	events service.EventStore
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(events service.EventStore) *AdminHandler {
	return &AdminHandler{events: events}
}

// ListEvents handles GET /api/admin/events. Supports optional accountId
// and limit query parameters.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.events.ListRecent(r.Context(), r.URL.Query().Get("accountId"), limit)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, events)
}
