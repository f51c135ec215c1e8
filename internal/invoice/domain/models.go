// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus is always derived from the amounts, see DeriveStatus.
type InvoiceStatus string

const (
	InvoiceStatusOpen    InvoiceStatus = "open"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// Invoice is one charge concept billed to one student for one period.
// PeriodMonth and PeriodYear are both zero for invoices without a period.
type Invoice struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_period,priority:1;uniqueIndex:ux_invoices_number,priority:1" json:"school_id"`
	StudentID       snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_period,priority:2;index:ix_invoices_student" json:"student_id"`
	ChargeConceptID snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_period,priority:3" json:"charge_concept_id"`
	PeriodMonth     int           `gorm:"not null;uniqueIndex:ux_invoices_period,priority:4" json:"period_month"`
	PeriodYear      int           `gorm:"not null;uniqueIndex:ux_invoices_period,priority:5" json:"period_year"`
	PlanID          snowflake.ID  `gorm:"not null" json:"plan_id"`
	AssignmentID    snowflake.ID  `gorm:"not null" json:"assignment_id"`
	InvoiceNumber   *string       `gorm:"type:varchar(64);uniqueIndex:ux_invoices_number,priority:2" json:"invoice_number,omitempty"`
	Currency        string        `gorm:"type:varchar(3);not null" json:"currency"`
	DueDate         time.Time     `gorm:"not null;index:ix_invoices_due" json:"due_date"`
	Subtotal        int64         `gorm:"not null" json:"subtotal"`
	DiscountTotal   int64         `gorm:"not null" json:"discount_total"`
	TaxTotal        int64         `gorm:"not null" json:"tax_total"`
	LateFeeAccrued  int64         `gorm:"not null" json:"late_fee_accrued"`
	Total           int64         `gorm:"not null" json:"total"`
	PaidTotal       int64         `gorm:"not null" json:"paid_total"`
	Balance         int64         `gorm:"not null" json:"balance"`
	Status          InvoiceStatus `gorm:"type:varchar(16);not null;index:ix_invoices_status" json:"status"`
	VoidedAt        *time.Time    `json:"voided_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// HasPeriod reports whether the invoice is keyed to a calendar month.
func (i Invoice) HasPeriod() bool {
	return i.PeriodMonth != 0 && i.PeriodYear != 0
}

// InvoiceItem is a snapshot of one plan item split against the subtotal.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID    snowflake.ID `gorm:"not null" json:"school_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	ConceptCode string       `gorm:"type:varchar(64);not null" json:"concept_code"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Amount      int64        `gorm:"not null" json:"amount"`
	SortOrder   int          `gorm:"not null" json:"sort_order"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }

// InvoiceGenerationRun is append-only.
type InvoiceGenerationRun struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID                `gorm:"not null;index" json:"school_id"`
	RunAt           time.Time                   `gorm:"not null" json:"run_at"`
	FromMonth       string                      `gorm:"type:varchar(7);not null" json:"from_month"`
	ToMonth         string                      `gorm:"type:varchar(7);not null" json:"to_month"`
	CreatedInvoices int                         `gorm:"not null" json:"created_invoices"`
	Skipped         int                         `gorm:"not null" json:"skipped"`
	Failed          int                         `gorm:"not null" json:"failed"`
	Notes           datatypes.JSONSlice[string] `json:"notes"`
	CorrelationID   string                      `gorm:"type:varchar(64)" json:"correlation_id"`
}

func (InvoiceGenerationRun) TableName() string { return "invoice_generation_runs" }

// InvoiceSequence holds the last issued invoice number per school.
type InvoiceSequence struct {
	SchoolID  snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64        `gorm:"not null"`
}

func (InvoiceSequence) TableName() string { return "invoice_sequences" }
