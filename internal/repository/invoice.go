package repository

import (
	"context"
	"fmt"

	"github.com/debacu/backend/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvoiceRepository maintains the display-only invoice projection.
type InvoiceRepository struct {
	db *pgxpool.Pool
}

func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Upsert inserts or refreshes the projection row for a processor invoice.
func (r *InvoiceRepository) Upsert(ctx context.Context, inv *domain.Invoice) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO invoices (
			external_invoice_id, external_customer_id, external_subscription_id,
			account_id, product_id, status, currency,
			amount_subtotal, amount_tax, amount_total, amount_due,
			invoice_number, hosted_invoice_url, invoice_pdf,
			period_start, period_end, paid_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW())
		ON CONFLICT (external_invoice_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_subtotal = EXCLUDED.amount_subtotal,
			amount_tax = EXCLUDED.amount_tax,
			amount_total = EXCLUDED.amount_total,
			amount_due = EXCLUDED.amount_due,
			hosted_invoice_url = EXCLUDED.hosted_invoice_url,
			invoice_pdf = EXCLUDED.invoice_pdf,
			paid_at = COALESCE(EXCLUDED.paid_at, invoices.paid_at),
			account_id = COALESCE(EXCLUDED.account_id, invoices.account_id),
			product_id = COALESCE(EXCLUDED.product_id, invoices.product_id),
			updated_at = NOW()
	`,
		inv.ExternalInvoiceID, inv.ExternalCustomerID, inv.ExternalSubscriptionID,
		inv.AccountID, inv.ProductID, inv.Status, inv.Currency,
		inv.AmountSubtotal, inv.AmountTax, inv.AmountTotal, inv.AmountDue,
		inv.InvoiceNumber, inv.HostedInvoiceURL, inv.InvoicePDF,
		inv.PeriodStart, inv.PeriodEnd, inv.PaidAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert invoice: %w", err)
	}
	return nil
}
