package domain

import (
	"strings"
	"time"
)

// Subscription statuses. Transitions are monotonic per row: a row that
// leaves ACTIVE or PENDING_PAYMENT never returns to it; corrections create
// a new row instead.
const (
	StatusActive         = "ACTIVE"
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusPastDue        = "PAST_DUE"
	StatusSuspended      = "SUSPENDED"
	StatusCanceled       = "CANCELED"
	StatusReplaced       = "REPLACED"
)

// Billing frequencies.
const (
	FrequencyMonthly   = "MONTHLY"
	FrequencyYearly    = "YEARLY"
	FrequencyFreeTrial = "FREE_TRIAL"
)

// Subscription is one (account, product) billing relationship over time.
// External ids correlate to the payment processor's own objects and stay
// nil until the processor has been contacted.
type Subscription struct {
	ID               string `json:"id"`
	AccountID        string `json:"accountId"`
	ProductID        string `json:"productId"`
	PlanID           string `json:"planId"`
	Status           string `json:"status"`
	BillingFrequency string `json:"billingFrequency"`

	StartDate       *time.Time `json:"startDate,omitempty"`
	NextBillingDate *time.Time `json:"nextBillingDate,omitempty"`
	GraceEndsAt     *time.Time `json:"graceEndsAt,omitempty"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	SuspendedAt     *time.Time `json:"suspendedAt,omitempty"`

	// Stamped when a trial expires so the account knows what it must
	// purchase to stay active.
	RequiredPlanCode         *string `json:"requiredPlanCode,omitempty"`
	RequiredBillingFrequency *string `json:"requiredBillingFrequency,omitempty"`

	ExternalCheckoutID     *string `json:"externalCheckoutId,omitempty"`
	ExternalSubscriptionID *string `json:"externalSubscriptionId,omitempty"`
	ExternalPriceID        *string `json:"externalPriceId,omitempty"`

	// ReplacesSubscriptionID links a row to its counterpart in a
	// replacement: on a new row, the ACTIVE row it superseded; on a row
	// retired by duplicate repair, the row that was kept.
	ReplacesSubscriptionID *string `json:"replacesSubscriptionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the row can no longer transition in place.
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case StatusCanceled, StatusReplaced, StatusSuspended:
		return true
	}
	return false
}

// ActivationPatch carries the processor-confirmed fields stamped on a row
// when it is promoted to ACTIVE.
type ActivationPatch struct {
	ExternalSubscriptionID *string
	ExternalCheckoutID     *string
	ExternalPriceID        *string
	NextBillingDate        *time.Time
	StartDate              time.Time // applied only if the row has none
}

// ChangePlanRequest is the input for requesting a plan change.
type ChangePlanRequest struct {
	Action           string `json:"action" validate:"required,eq=CHANGE"`
	TargetPlanCode   string `json:"targetPlanCode" validate:"required"`
	BillingFrequency string `json:"billingFrequency"`
}

// NormalizedFrequency returns the requested billing frequency, defaulting
// to YEARLY when absent or unrecognized.
func (r *ChangePlanRequest) NormalizedFrequency() string {
	switch strings.ToUpper(strings.TrimSpace(r.BillingFrequency)) {
	case FrequencyMonthly:
		return FrequencyMonthly
	case FrequencyYearly:
		return FrequencyYearly
	}
	return FrequencyYearly
}

// ChangePlanResponse is returned when a checkout was opened.
type ChangePlanResponse struct {
	CheckoutURL           string `json:"checkoutUrl"`
	PendingSubscriptionID string `json:"pendingSubscriptionId"`
}

// ChangeConflict signals that a change is already in flight for the
// account. It is a typed result, not an error used for control flow.
type ChangeConflict struct {
	PendingSubscriptionID string `json:"pendingSubscriptionId"`
}

// PlanChangeResult is the outcome of RequestPlanChange: exactly one of
// Checkout or Conflict is set.
type PlanChangeResult struct {
	Checkout *ChangePlanResponse
	Conflict *ChangeConflict
}

// SubscriptionOverview is the read surface exposed to the UI/admin layer:
// the latest row in any state, the active row, the pending row, and the
// plan backing the active row.
type SubscriptionOverview struct {
	Latest  *Subscription `json:"latest"`
	Active  *Subscription `json:"active"`
	Pending *Subscription `json:"pending"`
	Plan    *Plan         `json:"plan"`
}
