package payment

import (
	"context"
	"encoding/json"
	"time"
)

// Checkout metadata keys. The webhook reconciler reads these back from the
// processor, so the change initiator and reconciler must agree on them.
const (
	MetaAccountID             = "account_id"
	MetaProductID             = "product_id"
	MetaPendingSubscriptionID = "pending_subscription_id"
	MetaTargetPlanCode        = "target_plan_code"
	MetaBillingFrequency      = "billing_frequency"
	MetaReplacesSubscription  = "replaces_subscription_id"
)

// CheckoutParams describes a hosted checkout session to open.
type CheckoutParams struct {
	PriceID           string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// CheckoutSession is the opened session the caller redirects the user to.
type CheckoutSession struct {
	ID  string
	URL string
}

// ProviderSubscription is the processor's view of a subscription, reduced
// to the fields reconciliation needs.
type ProviderSubscription struct {
	ID               string
	Status           string
	CustomerID       string
	PriceID          string
	CurrentPeriodEnd time.Time // zero when the processor reported none
}

// WebhookEvent is a verified inbound processor event. Raw holds the event's
// data object for the reconciler to decode into its own typed payloads.
type WebhookEvent struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

// Gateway is the payment-processor boundary. Implementations must not leak
// processor SDK types to callers.
type Gateway interface {
	// CreateCheckoutSession opens a hosted subscription checkout.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// GetSubscription fetches the processor's subscription object.
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	// VerifyWebhook authenticates a raw webhook delivery and returns the
	// parsed event. An error means the delivery must be rejected with no
	// side effects.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
