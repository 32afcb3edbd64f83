package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MockGateway is a dummy implementation for local development: checkouts
// resolve to a fake URL and every webhook signature verifies.
type MockGateway struct {
	// Subscriptions indexes provider subscriptions returned by
	// GetSubscription, keyed by id.
	Subscriptions map[string]*ProviderSubscription
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Subscriptions: make(map[string]*ProviderSubscription)}
}

func (g *MockGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	id := fmt.Sprintf("cs_mock_%d", time.Now().UnixNano())
	return &CheckoutSession{
		ID:  id,
		URL: "https://checkout.example.com/pay/" + id,
	}, nil
}

func (g *MockGateway) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	if sub, ok := g.Subscriptions[id]; ok {
		return sub, nil
	}
	return &ProviderSubscription{ID: id, Status: "active"}, nil
}

func (g *MockGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &WebhookEvent{ID: envelope.ID, Type: envelope.Type, Raw: envelope.Data.Object}, nil
}
