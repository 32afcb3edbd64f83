package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/pkg/payment"
)

// ReconcilerService folds verified processor webhooks into the
// subscription store. Every delivery is logged to the lifecycle event log
// under the processor's event id, and every state change goes through a
// status-guarded update, so redelivered and reordered events converge on
// the same final state.
//
// Only a failed subscription-store write returns an error; the handler
// maps that to a non-200 so the processor redelivers. Everything else,
// including malformed payloads and unknown event types, is acknowledged.
type ReconcilerService struct {
	subs     SubscriptionStore
	invoices InvoiceStore
	events   EventStore
	gateway  payment.Gateway

	now func() time.Time
}

func NewReconcilerService(subs SubscriptionStore, invoices InvoiceStore, events EventStore, gateway payment.Gateway) *ReconcilerService {
	return &ReconcilerService{
		subs:     subs,
		invoices: invoices,
		events:   events,
		gateway:  gateway,
		now:      time.Now,
	}
}

// externalID decodes a processor reference that arrives either as a bare
// id string or as an expanded object with an "id" field.
type externalID string

func (e *externalID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = externalID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = externalID(obj.ID)
	return nil
}

type checkoutSessionPayload struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     externalID        `json:"customer"`
	Subscription externalID        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID               string     `json:"id"`
	Customer         externalID `json:"customer"`
	Subscription     externalID `json:"subscription"`
	Status           string     `json:"status"`
	Currency         string     `json:"currency"`
	Subtotal         int64      `json:"subtotal"`
	Tax              int64      `json:"tax"`
	Total            int64      `json:"total"`
	AmountDue        int64      `json:"amount_due"`
	Number           string     `json:"number"`
	HostedInvoiceURL string     `json:"hosted_invoice_url"`
	InvoicePDF       string     `json:"invoice_pdf"`
	PeriodStart      int64      `json:"period_start"`
	PeriodEnd        int64      `json:"period_end"`
	Created          int64      `json:"created"`
}

type subscriptionPayload struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Customer         externalID `json:"customer"`
	CurrentPeriodEnd int64      `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// metaValue reads a checkout metadata key, accepting both snake_case and
// camelCase spellings for compatibility with older sessions.
func metaValue(md map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := md[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Process applies one verified webhook delivery.
func (s *ReconcilerService) Process(ctx context.Context, ev *payment.WebhookEvent) error {
	switch ev.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, ev)
	case "invoice.paid":
		return s.handleInvoicePaid(ctx, ev)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, ev)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, ev)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, ev)
	default:
		s.logEvent(ctx, ev, nil, map[string]any{"note": "unhandled event type"})
		return nil
	}
}

// handleCheckoutCompleted activates the pending row named in the session
// metadata. Any other ACTIVE row for the account is retired first, so the
// at-most-one-ACTIVE invariant holds even when an earlier deletion event
// was lost or arrives late.
func (s *ReconcilerService) handleCheckoutCompleted(ctx context.Context, ev *payment.WebhookEvent) error {
	var cs checkoutSessionPayload
	if err := json.Unmarshal(ev.Raw, &cs); err != nil {
		log.Printf("[Reconciler] Undecodable checkout session in %s: %v", ev.ID, err)
		s.logEvent(ctx, ev, nil, map[string]any{"note": "undecodable payload"})
		return nil
	}
	detail := map[string]any{"sessionId": cs.ID}

	if cs.Mode != "" && cs.Mode != "subscription" {
		detail["note"] = "ignored non-subscription checkout"
		s.logEvent(ctx, ev, &cs, detail)
		return nil
	}

	pendingID := metaValue(cs.Metadata, payment.MetaPendingSubscriptionID, "pendingSubscriptionId")
	if pendingID == "" {
		log.Printf("[Reconciler] Checkout session %s carries no pending subscription id", cs.ID)
		detail["note"] = "missing pending subscription id in metadata"
		s.logEvent(ctx, ev, &cs, detail)
		return nil
	}
	detail["pendingSubscriptionId"] = pendingID

	row, err := s.subs.GetByID(ctx, pendingID)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to load pending subscription", err)
	}
	if row == nil {
		log.Printf("[Reconciler] Checkout session %s references unknown subscription %s", cs.ID, pendingID)
		detail["note"] = "pending subscription not found"
		s.logEvent(ctx, ev, &cs, detail)
		return nil
	}

	if row.Status == domain.StatusActive {
		detail["note"] = "already active"
		s.logEvent(ctx, ev, &cs, detail)
		return nil
	}

	today := dateOnly(s.now())
	patch := domain.ActivationPatch{StartDate: today}
	if cs.ID != "" {
		id := cs.ID
		patch.ExternalCheckoutID = &id
	}
	if extSubID := string(cs.Subscription); extSubID != "" {
		patch.ExternalSubscriptionID = &extSubID
		if ps, err := s.gateway.GetSubscription(ctx, extSubID); err != nil {
			// Not fatal: the price and billing date arrive again with
			// invoice.paid and customer.subscription.updated.
			log.Printf("[Reconciler] Failed to fetch subscription %s from processor: %v", extSubID, err)
		} else {
			if ps.PriceID != "" {
				priceID := ps.PriceID
				patch.ExternalPriceID = &priceID
			}
			if !ps.CurrentPeriodEnd.IsZero() {
				next := ps.CurrentPeriodEnd
				patch.NextBillingDate = &next
			}
		}
	}

	replaced, err := s.subs.ReplaceActiveExcept(ctx, row.AccountID, row.ProductID, row.ID, today)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to retire previous subscriptions", err)
	}
	detail["replacedCount"] = replaced

	// The superseded row may have left ACTIVE already (a racing
	// invoice.payment_failed flags it PAST_DUE); retire it explicitly so
	// it never lingers in a payable state.
	if row.ReplacesSubscriptionID != nil && *row.ReplacesSubscriptionID != row.ID {
		lineageReplaced, err := s.subs.MarkReplaced(ctx, *row.ReplacesSubscriptionID, &row.ID, today)
		if err != nil {
			return domain.ErrStoreUnavailable("failed to retire superseded subscription", err)
		}
		detail["supersededReplaced"] = lineageReplaced
	}

	activated, err := s.subs.Activate(ctx, row.ID, patch)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to activate subscription", err)
	}
	detail["activated"] = activated
	if !activated {
		detail["note"] = "row no longer pending, left as " + row.Status
	}

	s.logEvent(ctx, ev, &cs, detail)
	return nil
}

// handleInvoicePaid refreshes the invoice projection and advances the
// subscription's next billing date to the paid period's end.
func (s *ReconcilerService) handleInvoicePaid(ctx context.Context, ev *payment.WebhookEvent) error {
	inv, row, err := s.decodeInvoice(ctx, ev)
	if err != nil {
		return err
	}
	if inv == nil {
		return nil
	}
	detail := map[string]any{"invoiceId": inv.ID}

	paidAt := s.now().UTC()
	s.upsertInvoice(ctx, inv, row, &paidAt)

	if extSubID := string(inv.Subscription); extSubID != "" && inv.PeriodEnd > 0 {
		next := time.Unix(inv.PeriodEnd, 0).UTC()
		if err := s.subs.AdvanceNextBilling(ctx, extSubID, next); err != nil {
			return domain.ErrStoreUnavailable("failed to advance next billing date", err)
		}
		detail["nextBillingDate"] = next.Format("2006-01-02")
	}

	s.logInvoiceEvent(ctx, ev, inv, row, detail)
	return nil
}

// handleInvoicePaymentFailed records the failed invoice and flags the
// subscription PAST_DUE unless it already reached a terminal state.
func (s *ReconcilerService) handleInvoicePaymentFailed(ctx context.Context, ev *payment.WebhookEvent) error {
	inv, row, err := s.decodeInvoice(ctx, ev)
	if err != nil {
		return err
	}
	if inv == nil {
		return nil
	}
	detail := map[string]any{"invoiceId": inv.ID}

	s.upsertInvoice(ctx, inv, row, nil)

	if extSubID := string(inv.Subscription); extSubID != "" {
		flagged, err := s.subs.MarkPastDue(ctx, extSubID)
		if err != nil {
			return domain.ErrStoreUnavailable("failed to mark subscription past due", err)
		}
		detail["markedPastDue"] = flagged
	} else {
		detail["note"] = "invoice carries no subscription"
	}

	s.logInvoiceEvent(ctx, ev, inv, row, detail)
	return nil
}

// handleSubscriptionUpdated mirrors the processor's reported status onto
// the local row. Terminal local rows are never resurrected; the guarded
// update silently skips them.
func (s *ReconcilerService) handleSubscriptionUpdated(ctx context.Context, ev *payment.WebhookEvent) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(ev.Raw, &sub); err != nil {
		log.Printf("[Reconciler] Undecodable subscription in %s: %v", ev.ID, err)
		s.logEvent(ctx, ev, nil, map[string]any{"note": "undecodable payload"})
		return nil
	}
	detail := map[string]any{"subscriptionId": sub.ID, "providerStatus": sub.Status}

	row, err := s.subs.FindByExternalSubscriptionID(ctx, sub.ID)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to look up subscription", err)
	}
	if row == nil {
		log.Printf("[Reconciler] Update for unknown subscription %s", sub.ID)
		detail["note"] = "no matching local subscription"
		s.logSubscriptionEvent(ctx, ev, &sub, nil, detail)
		return nil
	}

	status := mirrorableStatus(sub.Status)
	var nextBilling *time.Time
	if end := sub.periodEnd(); end > 0 {
		t := time.Unix(end, 0).UTC()
		nextBilling = &t
	}
	var priceID *string
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price.ID != "" {
		priceID = &sub.Items.Data[0].Price.ID
	}

	mirrored, err := s.subs.MirrorStatus(ctx, row.ID, status, nextBilling, priceID)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to mirror subscription status", err)
	}
	detail["status"] = status
	detail["mirrored"] = mirrored

	s.logSubscriptionEvent(ctx, ev, &sub, row, detail)
	return nil
}

// handleSubscriptionDeleted cancels the local row when the processor
// reports the subscription gone.
func (s *ReconcilerService) handleSubscriptionDeleted(ctx context.Context, ev *payment.WebhookEvent) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(ev.Raw, &sub); err != nil {
		log.Printf("[Reconciler] Undecodable subscription in %s: %v", ev.ID, err)
		s.logEvent(ctx, ev, nil, map[string]any{"note": "undecodable payload"})
		return nil
	}
	detail := map[string]any{"subscriptionId": sub.ID}

	row, err := s.subs.FindByExternalSubscriptionID(ctx, sub.ID)
	if err != nil {
		return domain.ErrStoreUnavailable("failed to look up subscription", err)
	}
	if row == nil {
		detail["note"] = "no matching local subscription"
		s.logSubscriptionEvent(ctx, ev, &sub, nil, detail)
		return nil
	}

	canceled, err := s.subs.Cancel(ctx, row.ID, dateOnly(s.now()))
	if err != nil {
		return domain.ErrStoreUnavailable("failed to cancel subscription", err)
	}
	detail["canceled"] = canceled

	s.logSubscriptionEvent(ctx, ev, &sub, row, detail)
	return nil
}

// periodEnd returns the subscription's current period end, preferring the
// top-level field and falling back to the first item.
func (p *subscriptionPayload) periodEnd() int64 {
	if p.CurrentPeriodEnd > 0 {
		return p.CurrentPeriodEnd
	}
	if len(p.Items.Data) > 0 {
		return p.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

// mirrorableStatus maps a processor status string to the local vocabulary.
// Only "active" maps onto ACTIVE; every other status mirrors uppercased
// as-is, so a processor-side trial can never mint a second ACTIVE row.
func mirrorableStatus(provider string) string {
	if provider == "active" {
		return domain.StatusActive
	}
	return strings.ToUpper(provider)
}

// decodeInvoice parses the invoice payload and resolves the local row it
// belongs to. A nil invoice means the payload was undecodable and the
// delivery was already logged and acknowledged.
func (s *ReconcilerService) decodeInvoice(ctx context.Context, ev *payment.WebhookEvent) (*invoicePayload, *domain.Subscription, error) {
	var inv invoicePayload
	if err := json.Unmarshal(ev.Raw, &inv); err != nil {
		log.Printf("[Reconciler] Undecodable invoice in %s: %v", ev.ID, err)
		s.logEvent(ctx, ev, nil, map[string]any{"note": "undecodable payload"})
		return nil, nil, nil
	}
	var row *domain.Subscription
	if extSubID := string(inv.Subscription); extSubID != "" {
		var err error
		row, err = s.subs.FindByExternalSubscriptionID(ctx, extSubID)
		if err != nil {
			return nil, nil, domain.ErrStoreUnavailable("failed to look up subscription", err)
		}
	}
	return &inv, row, nil
}

// upsertInvoice refreshes the display projection. The projection never
// drives state, so a write failure here is logged and tolerated.
func (s *ReconcilerService) upsertInvoice(ctx context.Context, inv *invoicePayload, row *domain.Subscription, paidAt *time.Time) {
	projection := &domain.Invoice{
		ExternalInvoiceID: inv.ID,
		Status:            inv.Status,
		Currency:          inv.Currency,
		AmountSubtotal:    inv.Subtotal,
		AmountTax:         inv.Tax,
		AmountTotal:       inv.Total,
		AmountDue:         inv.AmountDue,
		PaidAt:            paidAt,
		CreatedAt:         s.now().UTC(),
	}
	if inv.Created > 0 {
		projection.CreatedAt = time.Unix(inv.Created, 0).UTC()
	}
	if v := string(inv.Customer); v != "" {
		projection.ExternalCustomerID = &v
	}
	if v := string(inv.Subscription); v != "" {
		projection.ExternalSubscriptionID = &v
	}
	if inv.Number != "" {
		projection.InvoiceNumber = &inv.Number
	}
	if inv.HostedInvoiceURL != "" {
		projection.HostedInvoiceURL = &inv.HostedInvoiceURL
	}
	if inv.InvoicePDF != "" {
		projection.InvoicePDF = &inv.InvoicePDF
	}
	if inv.PeriodStart > 0 {
		t := time.Unix(inv.PeriodStart, 0).UTC()
		projection.PeriodStart = &t
	}
	if inv.PeriodEnd > 0 {
		t := time.Unix(inv.PeriodEnd, 0).UTC()
		projection.PeriodEnd = &t
	}
	if row != nil {
		projection.AccountID = &row.AccountID
		projection.ProductID = &row.ProductID
	}
	if err := s.invoices.Upsert(ctx, projection); err != nil {
		log.Printf("[Reconciler] Failed to upsert invoice %s: %v", inv.ID, err)
	}
}

// logEvent appends the delivery to the lifecycle log keyed by the
// processor's event id. A redelivered event deduplicates silently; a log
// write failure never fails the delivery.
func (s *ReconcilerService) logEvent(ctx context.Context, ev *payment.WebhookEvent, cs *checkoutSessionPayload, detail map[string]any) {
	e := &domain.LifecycleEvent{
		ExternalEventID: ev.ID,
		Type:            ev.Type,
		Payload:         detail,
		CreatedAt:       s.now().UTC(),
	}
	if cs != nil {
		if v := string(cs.Customer); v != "" {
			e.ExternalCustomerID = &v
		}
		if v := string(cs.Subscription); v != "" {
			e.ExternalSubscriptionID = &v
		}
		if v := metaValue(cs.Metadata, payment.MetaAccountID, "accountId"); v != "" {
			e.AccountID = &v
		}
		if v := metaValue(cs.Metadata, payment.MetaProductID, "productId"); v != "" {
			e.ProductID = &v
		}
	}
	if err := s.events.Append(ctx, e); err != nil {
		log.Printf("[Reconciler] Failed to append %s event %s: %v", ev.Type, ev.ID, err)
	}
}

func (s *ReconcilerService) logInvoiceEvent(ctx context.Context, ev *payment.WebhookEvent, inv *invoicePayload, row *domain.Subscription, detail map[string]any) {
	e := &domain.LifecycleEvent{
		ExternalEventID: ev.ID,
		Type:            ev.Type,
		Payload:         detail,
		CreatedAt:       s.now().UTC(),
	}
	if v := string(inv.Customer); v != "" {
		e.ExternalCustomerID = &v
	}
	if v := string(inv.Subscription); v != "" {
		e.ExternalSubscriptionID = &v
	}
	if row != nil {
		e.AccountID = &row.AccountID
		e.ProductID = &row.ProductID
	}
	if err := s.events.Append(ctx, e); err != nil {
		log.Printf("[Reconciler] Failed to append %s event %s: %v", ev.Type, ev.ID, err)
	}
}

func (s *ReconcilerService) logSubscriptionEvent(ctx context.Context, ev *payment.WebhookEvent, sub *subscriptionPayload, row *domain.Subscription, detail map[string]any) {
	e := &domain.LifecycleEvent{
		ExternalEventID: ev.ID,
		Type:            ev.Type,
		Payload:         detail,
		CreatedAt:       s.now().UTC(),
	}
	if v := string(sub.Customer); v != "" {
		e.ExternalCustomerID = &v
	}
	if sub.ID != "" {
		id := sub.ID
		e.ExternalSubscriptionID = &id
	}
	if row != nil {
		e.AccountID = &row.AccountID
		e.ProductID = &row.ProductID
	}
	if err := s.events.Append(ctx, e); err != nil {
		log.Printf("[Reconciler] Failed to append %s event %s: %v", ev.Type, ev.ID, err)
	}
}
