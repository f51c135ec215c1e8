// Package domain holds the school tenant model and the request tenant resolver.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// School is the tenant boundary. Every ledger row carries its id.
type School struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Slug           string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_schools_slug" json:"slug"`
	Currency       string       `gorm:"type:varchar(3);not null" json:"currency"`
	Timezone       string       `gorm:"type:varchar(64);not null" json:"timezone"`
	LateFeePerDiem *int64       `gorm:"column:late_fee_per_diem" json:"late_fee_per_diem,omitempty"`
	InvoiceDueDay  *int         `gorm:"column:invoice_due_day" json:"invoice_due_day,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (School) TableName() string { return "schools" }

// Settings are the billing parameters of a school with configured defaults
// applied.
type Settings struct {
	SchoolID       snowflake.ID
	Currency       string
	Timezone       string
	LateFeePerDiem int64
	InvoiceDueDay  int
}
