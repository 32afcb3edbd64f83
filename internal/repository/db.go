package repository

import (
	"context"
	"fmt"

	"github.com/debacu/backend/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration and seeds the plan
// catalog. Plans are static reference data: seeded once, read-only at
// runtime.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'account',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

		CREATE TABLE IF NOT EXISTS plans (
			id                     TEXT PRIMARY KEY,
			code                   TEXT NOT NULL UNIQUE,
			display_name           TEXT NOT NULL,
			price_monthly_cents    BIGINT NOT NULL DEFAULT 0,
			external_price_monthly TEXT NOT NULL DEFAULT '',
			external_price_yearly  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                         TEXT PRIMARY KEY,
			account_id                 TEXT NOT NULL,
			product_id                 TEXT NOT NULL,
			plan_id                    TEXT NOT NULL,
			status                     TEXT NOT NULL,
			billing_frequency          TEXT NOT NULL,
			start_date                 DATE,
			next_billing_date          DATE,
			grace_ends_at              TIMESTAMPTZ,
			end_date                   DATE,
			suspended_at               TIMESTAMPTZ,
			required_plan_code         TEXT,
			required_billing_frequency TEXT,
			external_checkout_id       TEXT,
			external_subscription_id   TEXT,
			external_price_id          TEXT,
			replaces_subscription_id   TEXT,
			created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions(account_id, product_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_external ON subscriptions(external_subscription_id);

		CREATE TABLE IF NOT EXISTS subscription_events (
			external_event_id        TEXT PRIMARY KEY,
			type                     TEXT NOT NULL,
			account_id               TEXT,
			product_id               TEXT,
			external_customer_id     TEXT,
			external_subscription_id TEXT,
			payload                  JSONB,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscription_events_account ON subscription_events(account_id, created_at);

		CREATE TABLE IF NOT EXISTS invoices (
			external_invoice_id      TEXT PRIMARY KEY,
			external_customer_id     TEXT,
			external_subscription_id TEXT,
			account_id               TEXT,
			product_id               TEXT,
			status                   TEXT NOT NULL,
			currency                 TEXT,
			amount_subtotal          BIGINT NOT NULL DEFAULT 0,
			amount_tax               BIGINT NOT NULL DEFAULT 0,
			amount_total             BIGINT NOT NULL DEFAULT 0,
			amount_due               BIGINT NOT NULL DEFAULT 0,
			invoice_number           TEXT,
			hosted_invoice_url       TEXT,
			invoice_pdf              TEXT,
			period_start             TIMESTAMPTZ,
			period_end               TIMESTAMPTZ,
			paid_at                  TIMESTAMPTZ,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SeedPlans inserts the plan catalog on first startup. Existing rows are
// left untouched so out-of-band catalog edits survive restarts.
func SeedPlans(ctx context.Context, pool *pgxpool.Pool, plans []domain.Plan) error {
	for _, p := range plans {
		_, err := pool.Exec(ctx, `
			INSERT INTO plans (id, code, display_name, price_monthly_cents, external_price_monthly, external_price_yearly)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO NOTHING
		`, p.ID, p.Code, p.DisplayName, p.PriceMonthlyCents, p.ExternalPriceMonthly, p.ExternalPriceYearly)
		if err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.Code, err)
		}
	}
	return nil
}
