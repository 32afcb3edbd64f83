package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/internal/service"
)

// MaintenanceRunner executes one maintenance sweep on demand.
type MaintenanceRunner interface {
	Run(ctx context.Context) (*service.MaintenanceSummary, error)
}

// MaintenanceHandler exposes the maintenance run to an external scheduler.
type MaintenanceHandler struct {
	maintenance MaintenanceRunner
	cronSecret  string
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(maintenance MaintenanceRunner, cronSecret string) *MaintenanceHandler {
	return &MaintenanceHandler{maintenance: maintenance, cronSecret: cronSecret}
}

// Run handles POST /internal/maintenance/run, authenticated by a shared
// secret header rather than an account token.
func (h *MaintenanceHandler) Run(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Cron-Secret")
	if h.cronSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.cronSecret)) != 1 {
		Error(w, domain.ErrUnauthorized("invalid cron secret"))
		return
	}

	summary, err := h.maintenance.Run(r.Context())
	if err != nil {
		JSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	JSON(w, http.StatusOK, summary)
}
