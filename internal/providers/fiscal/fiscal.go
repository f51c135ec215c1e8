// Package fiscal talks to the external tax-document stamping service. The
// ledger sends an invoice snapshot and keeps only the returned reference.
package fiscal

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -source=fiscal.go -destination=mock/mock_stamper.go -package=mock

var ErrNotConfigured = errors.New("fiscal_stamping_not_configured")

type SnapshotLine struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// Snapshot is the immutable view of an invoice handed to the stamping service.
type Snapshot struct {
	SchoolID      string         `json:"school_id"`
	InvoiceID     string         `json:"invoice_id"`
	InvoiceNumber string         `json:"invoice_number"`
	StudentID     string         `json:"student_id"`
	Currency      string         `json:"currency"`
	Subtotal      int64          `json:"subtotal"`
	DiscountTotal int64          `json:"discount_total"`
	TaxTotal      int64          `json:"tax_total"`
	Total         int64          `json:"total"`
	IssuedAt      time.Time      `json:"issued_at"`
	Lines         []SnapshotLine `json:"lines"`
}

type Stamp struct {
	Reference string    `json:"reference"`
	StampedAt time.Time `json:"stamped_at"`
}

type Stamper interface {
	Stamp(ctx context.Context, snapshot Snapshot) (Stamp, error)
}

// NoopStamper is used when no stamping endpoint is configured.
type NoopStamper struct{}

func (NoopStamper) Stamp(ctx context.Context, snapshot Snapshot) (Stamp, error) {
	return Stamp{}, ErrNotConfigured
}
