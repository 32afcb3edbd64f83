package handler

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/pkg/payment"
)

// maxWebhookBody caps webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookProcessor applies a verified webhook delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, ev *payment.WebhookEvent) error
}

// WebhookHandler receives payment processor webhooks. The processor
// retries any non-2xx response, so the handler answers 200 for every
// delivery it does not want redelivered, including ones it ignores.
type WebhookHandler struct {
	reconciler WebhookProcessor
	gateway    payment.Gateway
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler WebhookProcessor, gateway payment.Gateway) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, gateway: gateway}
}

// Handle handles POST /api/payment/webhook.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		Error(w, domain.ErrBadRequest("failed to read request body"))
		return
	}

	event, err := h.gateway.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("[Webhook] Signature verification failed: %v", err)
		Error(w, domain.ErrBadRequest("invalid webhook signature"))
		return
	}

	if err := h.reconciler.Process(r.Context(), event); err != nil {
		// Non-2xx makes the processor redeliver; transitions are guarded
		// and the event log deduplicates, so the retry is safe.
		log.Printf("[Webhook] Failed to process %s (%s): %v", event.Type, event.ID, err)
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"received": true})
}
