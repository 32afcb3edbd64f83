package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debacu/backend/internal/service"
)

type stubRunner struct {
	summary *service.MaintenanceSummary
	err     error
	runs    int
}

func (r *stubRunner) Run(ctx context.Context) (*service.MaintenanceSummary, error) {
	r.runs++
	return r.summary, r.err
}

func postMaintenance(h *MaintenanceHandler, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/run", nil)
	if secret != "" {
		req.Header.Set("X-Cron-Secret", secret)
	}
	rec := httptest.NewRecorder()
	h.Run(rec, req)
	return rec
}

func TestMaintenanceRequiresCronSecret(t *testing.T) {
	runner := &stubRunner{summary: &service.MaintenanceSummary{}}
	h := NewMaintenanceHandler(runner, "s3cret")

	for _, secret := range []string{"", "wrong"} {
		rec := postMaintenance(h, secret)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Zero(t, runner.runs)
}

func TestMaintenanceRejectsWhenNoSecretConfigured(t *testing.T) {
	runner := &stubRunner{summary: &service.MaintenanceSummary{}}
	h := NewMaintenanceHandler(runner, "")

	rec := postMaintenance(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.runs)
}

func TestMaintenanceReturnsSummary(t *testing.T) {
	runner := &stubRunner{summary: &service.MaintenanceSummary{TrialsExpired: 2, Suspended: 1}}
	h := NewMaintenanceHandler(runner, "s3cret")

	rec := postMaintenance(h, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trialsExpired":2`)
	assert.Contains(t, rec.Body.String(), `"suspended":1`)
	assert.Equal(t, 1, runner.runs)
}

func TestMaintenanceReportsRunError(t *testing.T) {
	runner := &stubRunner{summary: &service.MaintenanceSummary{}, err: errors.New("sweep failed")}
	h := NewMaintenanceHandler(runner, "s3cret")

	rec := postMaintenance(h, "s3cret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "sweep failed")
}
