package domain

import "time"

// Lifecycle event types written by this service. Processor-issued webhook
// events are logged under their original type string.
const (
	EventCheckoutCreated          = "CHECKOUT_CREATED"
	EventTrialStarted             = "TRIAL_STARTED"
	EventTrialExpiredToPending    = "CRON_TRIAL_FREE_EXPIRED_TO_PENDING"
	EventGraceExpiredToSuspended  = "CRON_GRACE_EXPIRED_TO_SUSPENDED"
	EventDuplicateActiveRepaired  = "CRON_FIX_DUPLICATE_ACTIVE"
	EventAbandonedPendingCanceled = "CRON_ABANDONED_PENDING_CANCELED"
	EventMaintenanceOK            = "CRON_DAILY_MAINTENANCE_OK"
	EventMaintenanceError         = "CRON_DAILY_MAINTENANCE_ERROR"
)

// LifecycleEvent is an append-only audit record of a lifecycle transition.
// ExternalEventID is the idempotency key: a duplicate insert is treated as
// success, never as an error. Events are never updated or deleted, and are
// not the source of truth for current state (the Subscription row is).
type LifecycleEvent struct {
	ExternalEventID        string         `json:"externalEventId"`
	Type                   string         `json:"type"`
	AccountID              *string        `json:"accountId,omitempty"`
	ProductID              *string        `json:"productId,omitempty"`
	ExternalCustomerID     *string        `json:"externalCustomerId,omitempty"`
	ExternalSubscriptionID *string        `json:"externalSubscriptionId,omitempty"`
	Payload                map[string]any `json:"payload,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
}
