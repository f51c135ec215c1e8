package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/pkg/db/pagination"
	"gorm.io/gorm"
)

// GenerateRequest bills every active assignment for the months FromMonth..ToMonth
// inclusive. CustomMonths applies to custom cadence plans whose assignment has
// no months of its own.
type GenerateRequest struct {
	SchoolID     snowflake.ID `json:"school_id"`
	FromMonth    string       `json:"from_month"`
	ToMonth      string       `json:"to_month"`
	CustomMonths []string     `json:"custom_months"`
}

type ListInvoicesRequest struct {
	pagination.Pagination
	StudentID snowflake.ID
	Status    InvoiceStatus
}

type ListInvoicesResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type InvoiceDetail struct {
	Invoice Invoice       `json:"invoice"`
	Items   []InvoiceItem `json:"items"`
}

type StampResult struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
	Reference string       `json:"reference"`
	StampedAt time.Time    `json:"stamped_at"`
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*InvoiceGenerationRun, error)
	GetInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) (*InvoiceDetail, error)
	ListInvoices(ctx context.Context, schoolID snowflake.ID, req ListInvoicesRequest) (ListInvoicesResponse, error)
	ListRuns(ctx context.Context, schoolID snowflake.ID, limit int) ([]InvoiceGenerationRun, error)
	VoidInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID, reason string) (*Invoice, error)
	RenderInvoicePDF(ctx context.Context, schoolID, invoiceID snowflake.ID) (io.Reader, error)
	StampInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) (*StampResult, error)
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	SchoolID  snowflake.ID
	StudentID snowflake.ID
	Status    InvoiceStatus
	Cursor    *Cursor
	Limit     int
}

// Repository methods take the db handle so callers control the transaction.
// Finders return nil, nil when nothing matches.
type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	NextSequence(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) (int64, error)
	SetNumber(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID, number string) error

	FindByID(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	ListCollectableForUpdate(ctx context.Context, db *gorm.DB, schoolID, studentID snowflake.ID) ([]Invoice, error)
	// ListLateFeeCandidateIDs returns collectable invoices that are past due
	// at asOf or still carry a fee from an earlier sweep.
	ListLateFeeCandidateIDs(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, asOf time.Time) ([]snowflake.ID, error)
	UpdateAmounts(ctx context.Context, db *gorm.DB, invoice *Invoice) error

	InsertRun(ctx context.Context, db *gorm.DB, run *InvoiceGenerationRun) error
	ListRuns(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, limit int) ([]InvoiceGenerationRun, error)
}

var (
	ErrInvalidSchool       = errors.New("invalid_school")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidRange        = errors.New("invalid_period_range")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoiceVoid         = errors.New("invoice_void")
	ErrInvoiceHasPayments  = errors.New("invoice_has_payments")
	ErrInvalidStatus       = errors.New("invalid_invoice_status")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrStampingUnavailable = errors.New("fiscal_stamping_unavailable")
)
