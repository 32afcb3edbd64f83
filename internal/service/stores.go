package service

import (
	"context"
	"time"

	"github.com/debacu/backend/internal/domain"
)

// Store interfaces consumed by the services. The pgx-backed repositories
// satisfy them; tests substitute in-memory implementations.

// SubscriptionStore persists subscription rows. Transition methods return
// false when the guarded update matched no row, which callers treat as
// "someone else already moved it" rather than as an error.
type SubscriptionStore interface {
	Create(ctx context.Context, s *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	FindByExternalSubscriptionID(ctx context.Context, externalID string) (*domain.Subscription, error)
	LatestForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error)
	ActiveForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error)
	PendingForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error)

	AttachCheckout(ctx context.Context, id, checkoutID, priceID string) error
	Activate(ctx context.Context, id string, p domain.ActivationPatch) (bool, error)
	ReplaceActiveExcept(ctx context.Context, accountID, productID, exceptID string, endDate time.Time) (int64, error)
	MarkReplaced(ctx context.Context, id string, keptID *string, endDate time.Time) (bool, error)
	AdvanceNextBilling(ctx context.Context, externalID string, next time.Time) error
	MarkPastDue(ctx context.Context, externalID string) (bool, error)
	MirrorStatus(ctx context.Context, id, status string, nextBilling *time.Time, priceID *string) (bool, error)
	Cancel(ctx context.Context, id string, endDate time.Time) (bool, error)

	ListExpiredTrials(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error)
	ExpireTrial(ctx context.Context, id string, graceEndsAt time.Time, requiredPlanCode, requiredFrequency string) (bool, error)
	ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error)
	Suspend(ctx context.Context, id string, at time.Time) (bool, error)
	ListActive(ctx context.Context, limit int) ([]*domain.Subscription, error)
	ListAbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error)
	CancelAbandoned(ctx context.Context, id string, endDate time.Time) (bool, error)
}

// EventStore is the append-only lifecycle event log.
type EventStore interface {
	Append(ctx context.Context, e *domain.LifecycleEvent) error
	ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.LifecycleEvent, error)
}

// PlanStore reads the plan catalog.
type PlanStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Plan, error)
	GetByID(ctx context.Context, id string) (*domain.Plan, error)
	List(ctx context.Context) ([]*domain.Plan, error)
}

// InvoiceStore maintains the display-only invoice projection.
type InvoiceStore interface {
	Upsert(ctx context.Context, inv *domain.Invoice) error
}

// AccountStore persists billing accounts.
type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	Exists(ctx context.Context, email string) (bool, error)
}
