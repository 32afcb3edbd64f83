package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/debacu/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// EventRepository handles the append-only lifecycle event log. Events are
// never updated or deleted.
type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts a lifecycle event. A duplicate external_event_id means
// the same delivery was logged before; that is success, not an error.
func (r *EventRepository) Append(ctx context.Context, e *domain.LifecycleEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscription_events (
			external_event_id, type, account_id, product_id,
			external_customer_id, external_subscription_id, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.ExternalEventID, e.Type, e.AccountID, e.ProductID,
		e.ExternalCustomerID, e.ExternalSubscriptionID, e.Payload, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, optionally filtered by account.
func (r *EventRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.LifecycleEvent, error) {
	query := `
		SELECT external_event_id, type, account_id, product_id,
		       external_customer_id, external_subscription_id, payload, created_at
		FROM subscription_events
	`
	args := []any{limit}
	if accountID != "" {
		query += ` WHERE account_id = $2`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	var out []*domain.LifecycleEvent
	for rows.Next() {
		var e domain.LifecycleEvent
		if err := rows.Scan(
			&e.ExternalEventID, &e.Type, &e.AccountID, &e.ProductID,
			&e.ExternalCustomerID, &e.ExternalSubscriptionID, &e.Payload, &e.CreatedAt,
		); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lifecycle events: %w", err)
	}
	return out, nil
}
