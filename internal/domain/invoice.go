package domain

import "time"

// Invoice is an immutable display-only projection of a processor invoice,
// keyed by the processor's invoice id. It never drives state transitions.
type Invoice struct {
	ExternalInvoiceID      string  `json:"externalInvoiceId"`
	ExternalCustomerID     *string `json:"externalCustomerId,omitempty"`
	ExternalSubscriptionID *string `json:"externalSubscriptionId,omitempty"`
	AccountID              *string `json:"accountId,omitempty"`
	ProductID              *string `json:"productId,omitempty"`

	Status   string `json:"status"`
	Currency string `json:"currency,omitempty"`

	AmountSubtotal int64 `json:"amountSubtotal"`
	AmountTax      int64 `json:"amountTax"`
	AmountTotal    int64 `json:"amountTotal"`
	AmountDue      int64 `json:"amountDue"`

	InvoiceNumber    *string `json:"invoiceNumber,omitempty"`
	HostedInvoiceURL *string `json:"hostedInvoiceUrl,omitempty"`
	InvoicePDF       *string `json:"invoicePdf,omitempty"`

	PeriodStart *time.Time `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time `json:"periodEnd,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
