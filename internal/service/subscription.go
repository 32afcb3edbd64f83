package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/pkg/payment"
)

// SubscriptionService owns the account-facing lifecycle operations: plan
// changes, trial creation, and the read overview. Money never moves here;
// a plan change only opens a checkout and records a PENDING_PAYMENT row
// for the webhook reconciler to confirm later.
type SubscriptionService struct {
	subs     SubscriptionStore
	plans    PlanStore
	events   EventStore
	accounts AccountStore
	gateway  payment.Gateway

	productID string
	trialDays int

	validate *validator.Validate
	now      func() time.Time
}

func NewSubscriptionService(
	subs SubscriptionStore,
	plans PlanStore,
	events EventStore,
	accounts AccountStore,
	gateway payment.Gateway,
	productID string,
	trialDays int,
) *SubscriptionService {
	return &SubscriptionService{
		subs:      subs,
		plans:     plans,
		events:    events,
		accounts:  accounts,
		gateway:   gateway,
		productID: productID,
		trialDays: trialDays,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// dateOnly truncates a timestamp to its UTC calendar date. Subscription
// date columns carry no time of day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RequestPlanChange opens a hosted checkout for the requested plan. The
// PENDING_PAYMENT row is inserted before the processor is contacted, so a
// crash between the two leaves a correlatable local row instead of an
// orphaned remote session. At most one change can be in flight per
// account: a second request returns a conflict carrying the existing
// pending id, not a second checkout.
func (s *SubscriptionService) RequestPlanChange(ctx context.Context, accountID string, req *domain.ChangePlanRequest) (*domain.PlanChangeResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	planCode, ok := domain.ParseChangeablePlanCode(req.TargetPlanCode)
	if !ok {
		return nil, domain.ErrBadRequest(fmt.Sprintf("invalid target plan code: %s", req.TargetPlanCode))
	}
	frequency := req.NormalizedFrequency()

	pending, err := s.subs.PendingForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to check for pending changes", err)
	}
	if pending != nil {
		return &domain.PlanChangeResult{
			Conflict: &domain.ChangeConflict{PendingSubscriptionID: pending.ID},
		}, nil
	}

	plan, err := s.plans.GetByCode(ctx, planCode)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load plan", err)
	}
	if plan == nil {
		return nil, domain.ErrBadRequest(fmt.Sprintf("unknown plan: %s", planCode))
	}
	priceID, ok := plan.ExternalPriceFor(frequency)
	if !ok {
		return nil, domain.ErrBadRequest(fmt.Sprintf("plan %s has no %s price configured", planCode, frequency))
	}

	active, err := s.subs.ActiveForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load active subscription", err)
	}

	now := s.now().UTC()
	sub := &domain.Subscription{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		ProductID:        s.productID,
		PlanID:           plan.ID,
		Status:           domain.StatusPendingPayment,
		BillingFrequency: frequency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if active != nil {
		sub.ReplacesSubscriptionID = &active.ID
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, domain.ErrStoreUnavailable("failed to create pending subscription", err)
	}

	metadata := map[string]string{
		payment.MetaAccountID:             accountID,
		payment.MetaProductID:             s.productID,
		payment.MetaPendingSubscriptionID: sub.ID,
		payment.MetaTargetPlanCode:        planCode,
		payment.MetaBillingFrequency:      frequency,
	}
	if sub.ReplacesSubscriptionID != nil {
		metadata[payment.MetaReplacesSubscription] = *sub.ReplacesSubscriptionID
	}

	params := payment.CheckoutParams{
		PriceID:           priceID,
		ClientReferenceID: sub.ID,
		Metadata:          metadata,
	}
	if account, err := s.accounts.FindByID(ctx, accountID); err == nil && account != nil {
		params.CustomerEmail = account.Email
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		// The pending row stays behind; the abandoned-pending sweep
		// cleans it up if the caller never retries.
		log.Printf("[Subscription] Checkout creation failed for account %s: %v", accountID, err)
		return nil, domain.ErrInternal("failed to open checkout session", err)
	}

	if err := s.subs.AttachCheckout(ctx, sub.ID, session.ID, priceID); err != nil {
		return nil, domain.ErrStoreUnavailable("failed to record checkout session", err)
	}

	s.logEvent(ctx, &domain.LifecycleEvent{
		ExternalEventID: "manage_" + uuid.New().String(),
		Type:            domain.EventCheckoutCreated,
		AccountID:       &accountID,
		ProductID:       &s.productID,
		Payload: map[string]any{
			"pendingSubscriptionId": sub.ID,
			"targetPlanCode":        planCode,
			"billingFrequency":      frequency,
			"checkoutSessionId":     session.ID,
		},
		CreatedAt: now,
	})

	return &domain.PlanChangeResult{
		Checkout: &domain.ChangePlanResponse{
			CheckoutURL:           session.URL,
			PendingSubscriptionID: sub.ID,
		},
	}, nil
}

// StartTrial provisions a free-trial subscription, active immediately
// without touching the payment processor. The trial's next_billing_date is
// the day the maintenance sweep will expire it.
func (s *SubscriptionService) StartTrial(ctx context.Context, accountID string) (*domain.Subscription, error) {
	active, err := s.subs.ActiveForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load active subscription", err)
	}
	if active != nil {
		return nil, domain.ErrConflict("account already has an active subscription")
	}

	plan, err := s.plans.GetByCode(ctx, domain.PlanFree)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load trial plan", err)
	}
	if plan == nil {
		return nil, domain.ErrInternal("trial plan is not configured", nil)
	}

	now := s.now().UTC()
	start := dateOnly(now)
	expires := start.AddDate(0, 0, s.trialDays)
	sub := &domain.Subscription{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		ProductID:        s.productID,
		PlanID:           plan.ID,
		Status:           domain.StatusActive,
		BillingFrequency: domain.FrequencyFreeTrial,
		StartDate:        &start,
		NextBillingDate:  &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, domain.ErrStoreUnavailable("failed to create trial subscription", err)
	}

	s.logEvent(ctx, &domain.LifecycleEvent{
		ExternalEventID: "trial_" + uuid.New().String(),
		Type:            domain.EventTrialStarted,
		AccountID:       &accountID,
		ProductID:       &s.productID,
		Payload: map[string]any{
			"subscriptionId": sub.ID,
			"trialEndsOn":    expires.Format("2006-01-02"),
		},
		CreatedAt: now,
	})

	return sub, nil
}

// GetOverview assembles the read surface for one account: latest row in
// any state, the active row, the in-flight pending row, and the plan
// backing the active row.
func (s *SubscriptionService) GetOverview(ctx context.Context, accountID string) (*domain.SubscriptionOverview, error) {
	latest, err := s.subs.LatestForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load subscription", err)
	}
	active, err := s.subs.ActiveForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load active subscription", err)
	}
	pending, err := s.subs.PendingForAccount(ctx, accountID, s.productID)
	if err != nil {
		return nil, domain.ErrStoreUnavailable("failed to load pending subscription", err)
	}

	overview := &domain.SubscriptionOverview{Latest: latest, Active: active, Pending: pending}
	if active != nil {
		plan, err := s.plans.GetByID(ctx, active.PlanID)
		if err != nil {
			return nil, domain.ErrStoreUnavailable("failed to load plan", err)
		}
		overview.Plan = plan
	}
	return overview, nil
}

// logEvent appends to the lifecycle log without failing the caller. The
// subscription row is the source of truth; a missed audit entry is logged
// and tolerated.
func (s *SubscriptionService) logEvent(ctx context.Context, e *domain.LifecycleEvent) {
	if err := s.events.Append(ctx, e); err != nil {
		log.Printf("[Subscription] Failed to append %s event: %v", e.Type, err)
	}
}
