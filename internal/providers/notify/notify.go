package notify

import (
	"context"
	"time"
)

const (
	EventInvoiceCreated = "invoice.created"
	EventInvoiceOverdue = "invoice.overdue"
	EventInvoiceVoided  = "invoice.voided"
	EventPaymentApplied = "payment.applied"
	EventSessionClosed  = "cash_session.closed"
)

// Event is a fire-and-forget notification about a ledger change.
type Event struct {
	Name       string         `json:"name"`
	SchoolID   string         `json:"school_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`

	// Metadata carries correlation and trace ids from the originating request.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
