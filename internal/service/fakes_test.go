package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/debacu/backend/internal/domain"
	"github.com/debacu/backend/pkg/payment"
)

var errStoreDown = errors.New("store down")

// memSubscriptionStore is an in-memory SubscriptionStore mirroring the
// guarded-update semantics of the SQL repository: a transition only
// applies when the row is in the expected state.
type memSubscriptionStore struct {
	mu      sync.Mutex
	rows    map[string]*domain.Subscription
	failing bool
}

func newMemSubscriptionStore() *memSubscriptionStore {
	return &memSubscriptionStore{rows: make(map[string]*domain.Subscription)}
}

func (m *memSubscriptionStore) put(s *domain.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.ID] = &cp
}

func (m *memSubscriptionStore) get(id string) *domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

func (m *memSubscriptionStore) Create(ctx context.Context, s *domain.Subscription) error {
	if m.failing {
		return errStoreDown
	}
	m.put(s)
	return nil
}

func (m *memSubscriptionStore) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	return m.get(id), nil
}

func (m *memSubscriptionStore) FindByExternalSubscriptionID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ExternalSubscriptionID != nil && *row.ExternalSubscriptionID == externalID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSubscriptionStore) forAccount(accountID, productID string, match func(*domain.Subscription) bool) []*domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for _, row := range m.rows {
		if row.AccountID == accountID && row.ProductID == productID && match(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memSubscriptionStore) LatestForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	rows := m.forAccount(accountID, productID, func(*domain.Subscription) bool { return true })
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows[0], nil
}

func (m *memSubscriptionStore) ActiveForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	rows := m.forAccount(accountID, productID, func(s *domain.Subscription) bool { return s.Status == domain.StatusActive })
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.StartDate != nil && b.StartDate == nil:
			return true
		case a.StartDate == nil && b.StartDate != nil:
			return false
		case a.StartDate != nil && b.StartDate != nil && !a.StartDate.Equal(*b.StartDate):
			return a.StartDate.After(*b.StartDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return rows[0], nil
}

func (m *memSubscriptionStore) PendingForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	rows := m.forAccount(accountID, productID, func(s *domain.Subscription) bool { return s.Status == domain.StatusPendingPayment })
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows[0], nil
}

func (m *memSubscriptionStore) AttachCheckout(ctx context.Context, id, checkoutID, priceID string) error {
	if m.failing {
		return errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok && row.Status == domain.StatusPendingPayment {
		row.ExternalCheckoutID = &checkoutID
		row.ExternalPriceID = &priceID
	}
	return nil
}

func (m *memSubscriptionStore) Activate(ctx context.Context, id string, p domain.ActivationPatch) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusPendingPayment {
		return false, nil
	}
	row.Status = domain.StatusActive
	if p.ExternalSubscriptionID != nil {
		row.ExternalSubscriptionID = p.ExternalSubscriptionID
	}
	if p.ExternalCheckoutID != nil {
		row.ExternalCheckoutID = p.ExternalCheckoutID
	}
	if p.ExternalPriceID != nil {
		row.ExternalPriceID = p.ExternalPriceID
	}
	if p.NextBillingDate != nil {
		row.NextBillingDate = p.NextBillingDate
	}
	if row.StartDate == nil {
		start := p.StartDate
		row.StartDate = &start
	}
	return true, nil
}

func (m *memSubscriptionStore) ReplaceActiveExcept(ctx context.Context, accountID, productID, exceptID string, endDate time.Time) (int64, error) {
	if m.failing {
		return 0, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.AccountID == accountID && row.ProductID == productID && row.ID != exceptID && row.Status == domain.StatusActive {
			row.Status = domain.StatusReplaced
			end := endDate
			row.EndDate = &end
			n++
		}
	}
	return n, nil
}

func (m *memSubscriptionStore) MarkReplaced(ctx context.Context, id string, keptID *string, endDate time.Time) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.IsTerminal() {
		return false, nil
	}
	row.Status = domain.StatusReplaced
	end := endDate
	row.EndDate = &end
	if keptID != nil && row.ReplacesSubscriptionID == nil {
		row.ReplacesSubscriptionID = keptID
	}
	return true, nil
}

func (m *memSubscriptionStore) AdvanceNextBilling(ctx context.Context, externalID string, next time.Time) error {
	if m.failing {
		return errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ExternalSubscriptionID != nil && *row.ExternalSubscriptionID == externalID {
			n := next
			row.NextBillingDate = &n
		}
	}
	return nil
}

func (m *memSubscriptionStore) MarkPastDue(ctx context.Context, externalID string) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ExternalSubscriptionID != nil && *row.ExternalSubscriptionID == externalID && !row.IsTerminal() {
			row.Status = domain.StatusPastDue
			return true, nil
		}
	}
	return false, nil
}

func (m *memSubscriptionStore) MirrorStatus(ctx context.Context, id, status string, nextBilling *time.Time, priceID *string) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.IsTerminal() {
		return false, nil
	}
	row.Status = status
	if nextBilling != nil {
		row.NextBillingDate = nextBilling
	}
	if priceID != nil {
		row.ExternalPriceID = priceID
	}
	return true, nil
}

func (m *memSubscriptionStore) Cancel(ctx context.Context, id string, endDate time.Time) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.IsTerminal() {
		return false, nil
	}
	row.Status = domain.StatusCanceled
	end := endDate
	row.EndDate = &end
	return true, nil
}

func (m *memSubscriptionStore) ListExpiredTrials(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for _, row := range m.rows {
		if row.Status == domain.StatusActive && row.BillingFrequency == domain.FrequencyFreeTrial &&
			row.NextBillingDate != nil && !row.NextBillingDate.After(asOf) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) ExpireTrial(ctx context.Context, id string, graceEndsAt time.Time, requiredPlanCode, requiredFrequency string) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusActive || row.BillingFrequency != domain.FrequencyFreeTrial {
		return false, nil
	}
	row.Status = domain.StatusPendingPayment
	if row.GraceEndsAt == nil {
		g := graceEndsAt
		row.GraceEndsAt = &g
	}
	row.RequiredPlanCode = &requiredPlanCode
	row.RequiredBillingFrequency = &requiredFrequency
	return true, nil
}

func (m *memSubscriptionStore) ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for _, row := range m.rows {
		if row.Status == domain.StatusPendingPayment && row.GraceEndsAt != nil && row.GraceEndsAt.Before(asOf) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) Suspend(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusPendingPayment {
		return false, nil
	}
	row.Status = domain.StatusSuspended
	t := at
	row.SuspendedAt = &t
	return true, nil
}

func (m *memSubscriptionStore) ListActive(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for _, row := range m.rows {
		if row.Status == domain.StatusActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	// Map iteration order is random; sort by id so tests can flip it
	// deliberately when probing order sensitivity.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSubscriptionStore) ListAbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for _, row := range m.rows {
		if row.Status == domain.StatusPendingPayment && row.ExternalCheckoutID == nil &&
			row.GraceEndsAt == nil && row.CreatedAt.Before(cutoff) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionStore) CancelAbandoned(ctx context.Context, id string, endDate time.Time) (bool, error) {
	if m.failing {
		return false, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != domain.StatusPendingPayment || row.ExternalCheckoutID != nil {
		return false, nil
	}
	row.Status = domain.StatusCanceled
	end := endDate
	row.EndDate = &end
	return true, nil
}

// memEventStore deduplicates on ExternalEventID like the SQL log.
type memEventStore struct {
	mu      sync.Mutex
	events  []*domain.LifecycleEvent
	seen    map[string]bool
	failing bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{seen: make(map[string]bool)}
}

func (m *memEventStore) Append(ctx context.Context, e *domain.LifecycleEvent) error {
	if m.failing {
		return errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[e.ExternalEventID] {
		return nil
	}
	m.seen[e.ExternalEventID] = true
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *memEventStore) ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.LifecycleEvent, error) {
	if m.failing {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LifecycleEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if accountID != "" && (e.AccountID == nil || *e.AccountID != accountID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memEventStore) byType(eventType string) []*domain.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LifecycleEvent
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memPlanStore serves a fixed catalog.
type memPlanStore struct {
	plans []*domain.Plan
}

func newMemPlanStore() *memPlanStore {
	return &memPlanStore{plans: []*domain.Plan{
		{ID: "plan_free", Code: domain.PlanFree, DisplayName: "Free Trial"},
		{ID: "plan_basic", Code: domain.PlanBasic, DisplayName: "Basic", PriceMonthlyCents: 2900,
			ExternalPriceMonthly: "price_basic_m", ExternalPriceYearly: "price_basic_y"},
		{ID: "plan_medium", Code: domain.PlanMedium, DisplayName: "Medium", PriceMonthlyCents: 5900,
			ExternalPriceMonthly: "price_medium_m", ExternalPriceYearly: "price_medium_y"},
		{ID: "plan_premium", Code: domain.PlanPremium, DisplayName: "Premium", PriceMonthlyCents: 9900,
			ExternalPriceMonthly: "price_premium_m", ExternalPriceYearly: "price_premium_y"},
	}}
}

func (m *memPlanStore) GetByCode(ctx context.Context, code string) (*domain.Plan, error) {
	for _, p := range m.plans {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPlanStore) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	for _, p := range m.plans {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPlanStore) List(ctx context.Context) ([]*domain.Plan, error) {
	return m.plans, nil
}

// memInvoiceStore records upserts keyed by external invoice id.
type memInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
	failing  bool
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{invoices: make(map[string]*domain.Invoice)}
}

func (m *memInvoiceStore) Upsert(ctx context.Context, inv *domain.Invoice) error {
	if m.failing {
		return errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ExternalInvoiceID] = &cp
	return nil
}

// memAccountStore holds accounts by id and email.
type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*domain.Account)}
}

func (m *memAccountStore) Create(ctx context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memAccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccountStore) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccountStore) Exists(ctx context.Context, email string) (bool, error) {
	a, _ := m.FindByEmail(ctx, email)
	return a != nil, nil
}

// fakeGateway records checkout requests and serves canned provider
// subscriptions.
type fakeGateway struct {
	mu            sync.Mutex
	checkouts     []payment.CheckoutParams
	checkoutErr   error
	subscriptions map[string]*payment.ProviderSubscription
	getErr        error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subscriptions: make(map[string]*payment.ProviderSubscription)}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkouts = append(g.checkouts, p)
	return &payment.CheckoutSession{
		ID:  "cs_test_1",
		URL: "https://checkout.example.com/cs_test_1",
	}, nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, id string) (*payment.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	if sub, ok := g.subscriptions[id]; ok {
		return sub, nil
	}
	return &payment.ProviderSubscription{ID: id, Status: "active"}, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return nil, errors.New("not used in tests")
}
