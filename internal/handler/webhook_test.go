package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/pkg/payment"
)

type stubGateway struct {
	verifyErr error
	event     *payment.WebhookEvent
	lastSig   string
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) GetSubscription(ctx context.Context, id string) (*payment.ProviderSubscription, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	g.lastSig = signature
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

type stubProcessor struct {
	err       error
	processed []*payment.WebhookEvent
}

func (p *stubProcessor) Process(ctx context.Context, ev *payment.WebhookEvent) error {
	p.processed = append(p.processed, ev)
	return p.err
}

func postWebhook(h *WebhookHandler, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(`{"id":"evt_1"}`))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	gateway := &stubGateway{verifyErr: errors.New("bad signature")}
	processor := &stubProcessor{}
	h := NewWebhookHandler(processor, gateway)

	rec := postWebhook(h, "t=1,v1=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, processor.processed)
}

func TestWebhookAcksProcessedDelivery(t *testing.T) {
	gateway := &stubGateway{event: &payment.WebhookEvent{ID: "evt_1", Type: "invoice.paid"}}
	processor := &stubProcessor{}
	h := NewWebhookHandler(processor, gateway)

	rec := postWebhook(h, "t=1,v1=good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, processor.processed, 1)
	assert.Equal(t, "evt_1", processor.processed[0].ID)
	assert.Equal(t, "t=1,v1=good", gateway.lastSig)
}

func TestWebhookSignalsRetryOnStoreFailure(t *testing.T) {
	gateway := &stubGateway{event: &payment.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed"}}
	processor := &stubProcessor{err: domain.ErrStoreUnavailable("store down", errors.New("timeout"))}
	h := NewWebhookHandler(processor, gateway)

	rec := postWebhook(h, "t=1,v1=good")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
