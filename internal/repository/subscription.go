package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debacu/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `
	id, account_id, product_id, plan_id, status, billing_frequency,
	start_date, next_billing_date, grace_ends_at, end_date, suspended_at,
	required_plan_code, required_billing_frequency,
	external_checkout_id, external_subscription_id, external_price_id,
	replaces_subscription_id, created_at, updated_at`

// SubscriptionRepository handles database operations for subscriptions.
// Every state transition is a conditional UPDATE guarded on the current
// status, so concurrent writers and replayed webhooks can never
// double-apply a transition.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

type subscriptionRow interface {
	Scan(dest ...any) error
}

func scanSubscription(row subscriptionRow) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID, &s.AccountID, &s.ProductID, &s.PlanID, &s.Status, &s.BillingFrequency,
		&s.StartDate, &s.NextBillingDate, &s.GraceEndsAt, &s.EndDate, &s.SuspendedAt,
		&s.RequiredPlanCode, &s.RequiredBillingFrequency,
		&s.ExternalCheckoutID, &s.ExternalSubscriptionID, &s.ExternalPriceID,
		&s.ReplacesSubscriptionID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &s, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscriptions (
			id, account_id, product_id, plan_id, status, billing_frequency,
			start_date, next_billing_date, grace_ends_at, end_date, suspended_at,
			required_plan_code, required_billing_frequency,
			external_checkout_id, external_subscription_id, external_price_id,
			replaces_subscription_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		s.ID, s.AccountID, s.ProductID, s.PlanID, s.Status, s.BillingFrequency,
		s.StartDate, s.NextBillingDate, s.GraceEndsAt, s.EndDate, s.SuspendedAt,
		s.RequiredPlanCode, s.RequiredBillingFrequency,
		s.ExternalCheckoutID, s.ExternalSubscriptionID, s.ExternalPriceID,
		s.ReplacesSubscriptionID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// FindByExternalSubscriptionID correlates a processor subscription id to
// the local row. Returns nil when no row matches.
func (r *SubscriptionRepository) FindByExternalSubscriptionID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_id = $1 LIMIT 1`,
		externalID)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) LatestForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND product_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, accountID, productID)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) ActiveForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND product_id = $2 AND status = 'ACTIVE'
		ORDER BY start_date DESC NULLS LAST, created_at DESC LIMIT 1
	`, accountID, productID)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) PendingForAccount(ctx context.Context, accountID, productID string) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND product_id = $2 AND status = 'PENDING_PAYMENT'
		ORDER BY created_at DESC LIMIT 1
	`, accountID, productID)
	return scanSubscription(row)
}

// AttachCheckout persists the external checkout id once the processor
// session exists. The row was inserted before the external call, so a
// failure here leaves a correlatable row rather than an orphaned checkout.
func (r *SubscriptionRepository) AttachCheckout(ctx context.Context, id, checkoutID, priceID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET external_checkout_id = $2, external_price_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'
	`, id, checkoutID, priceID)
	if err != nil {
		return fmt.Errorf("failed to attach checkout: %w", err)
	}
	return nil
}

// Activate promotes a PENDING_PAYMENT row to ACTIVE. The guard makes a
// replayed checkout event a no-op: false is returned when the row was not
// in PENDING_PAYMENT.
func (r *SubscriptionRepository) Activate(ctx context.Context, id string, p domain.ActivationPatch) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET
			status = 'ACTIVE',
			external_subscription_id = COALESCE($2, external_subscription_id),
			external_checkout_id = COALESCE($3, external_checkout_id),
			external_price_id = COALESCE($4, external_price_id),
			next_billing_date = COALESCE($5, next_billing_date),
			start_date = COALESCE(start_date, $6),
			updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'
	`, id, p.ExternalSubscriptionID, p.ExternalCheckoutID, p.ExternalPriceID, p.NextBillingDate, p.StartDate)
	if err != nil {
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceActiveExcept marks every ACTIVE row for the account other than
// exceptID as REPLACED. Restores the at-most-one-ACTIVE invariant before a
// new row is activated.
func (r *SubscriptionRepository) ReplaceActiveExcept(ctx context.Context, accountID, productID, exceptID string, endDate time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'REPLACED', end_date = $4, updated_at = NOW()
		WHERE account_id = $1 AND product_id = $2 AND id <> $3 AND status = 'ACTIVE'
	`, accountID, productID, exceptID, endDate)
	if err != nil {
		return 0, fmt.Errorf("failed to replace active subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkReplaced retires one non-terminal row. A superseded row may have
// drifted to PAST_DUE before its replacement activated; it must still end
// up REPLACED. keptID, when non-nil, records which row superseded it.
func (r *SubscriptionRepository) MarkReplaced(ctx context.Context, id string, keptID *string, endDate time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'REPLACED',
			end_date = $3,
			replaces_subscription_id = COALESCE($2, replaces_subscription_id),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('CANCELED','REPLACED','SUSPENDED')
	`, id, keptID, endDate)
	if err != nil {
		return false, fmt.Errorf("failed to mark subscription replaced: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceNextBilling moves next_billing_date forward on the row matching
// the processor subscription id (invoice paid).
func (r *SubscriptionRepository) AdvanceNextBilling(ctx context.Context, externalID string, next time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET next_billing_date = $2, updated_at = NOW()
		WHERE external_subscription_id = $1
	`, externalID, next)
	if err != nil {
		return fmt.Errorf("failed to advance next billing date: %w", err)
	}
	return nil
}

// MarkPastDue flags the matching row after a failed payment. Terminal rows
// are never resurrected.
func (r *SubscriptionRepository) MarkPastDue(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'PAST_DUE', updated_at = NOW()
		WHERE external_subscription_id = $1
		  AND status NOT IN ('CANCELED','REPLACED','SUSPENDED')
	`, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to mark subscription past due: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MirrorStatus copies the processor's reported status onto a non-terminal
// row, refreshing the billing date and price id.
func (r *SubscriptionRepository) MirrorStatus(ctx context.Context, id, status string, nextBilling *time.Time, priceID *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET
			status = $2,
			next_billing_date = COALESCE($3, next_billing_date),
			external_price_id = COALESCE($4, external_price_id),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('CANCELED','REPLACED','SUSPENDED')
	`, id, status, nextBilling, priceID)
	if err != nil {
		return false, fmt.Errorf("failed to mirror subscription status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel terminates a non-terminal row (processor-side deletion).
func (r *SubscriptionRepository) Cancel(ctx context.Context, id string, endDate time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'CANCELED', end_date = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('CANCELED','REPLACED','SUSPENDED')
	`, id, endDate)
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredTrials returns ACTIVE free-trial rows whose billing date has
// arrived.
func (r *SubscriptionRepository) ListExpiredTrials(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'ACTIVE' AND billing_frequency = 'FREE_TRIAL'
		  AND next_billing_date IS NOT NULL AND next_billing_date <= $1
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	return collectSubscriptions(rows)
}

// ExpireTrial moves one expired trial to PENDING_PAYMENT, stamping the
// plan the account must purchase. grace_ends_at is only set when absent so
// a rerun never moves the window.
func (r *SubscriptionRepository) ExpireTrial(ctx context.Context, id string, graceEndsAt time.Time, requiredPlanCode, requiredFrequency string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET
			status = 'PENDING_PAYMENT',
			grace_ends_at = COALESCE(grace_ends_at, $2),
			required_plan_code = $3,
			required_billing_frequency = $4,
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND billing_frequency = 'FREE_TRIAL'
	`, id, graceEndsAt, requiredPlanCode, requiredFrequency)
	if err != nil {
		return false, fmt.Errorf("failed to expire trial: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListGraceExpired returns PENDING_PAYMENT rows whose grace window lapsed.
func (r *SubscriptionRepository) ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'PENDING_PAYMENT' AND grace_ends_at IS NOT NULL AND grace_ends_at < $1
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list grace-expired subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// Suspend retires one grace-expired row.
func (r *SubscriptionRepository) Suspend(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'SUSPENDED', suspended_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to suspend subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActive returns all ACTIVE rows for the duplicate-repair pass.
func (r *SubscriptionRepository) ListActive(ctx context.Context, limit int) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'ACTIVE' LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListAbandonedPending returns PENDING_PAYMENT rows that never reached the
// processor (no checkout id, no grace window) and are older than cutoff.
func (r *SubscriptionRepository) ListAbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'PENDING_PAYMENT'
		  AND external_checkout_id IS NULL
		  AND grace_ends_at IS NULL
		  AND created_at < $1
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned pending subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// CancelAbandoned closes one abandoned pending row.
func (r *SubscriptionRepository) CancelAbandoned(ctx context.Context, id string, endDate time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'CANCELED', end_date = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_PAYMENT' AND external_checkout_id IS NULL
	`, id, endDate)
	if err != nil {
		return false, fmt.Errorf("failed to cancel abandoned subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	defer rows.Close()
	var out []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return out, nil
}
