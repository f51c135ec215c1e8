// Package domain models cash registers and the cashier sessions opened on them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CashRegister struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID  snowflake.ID `gorm:"not null;index" json:"school_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Location  string       `gorm:"type:text" json:"location"`
	IsActive  bool         `gorm:"not null" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (CashRegister) TableName() string { return "cash_registers" }

// CashSession is open while ClosedAt is nil. OpenMarker holds the register id
// during that time and is cleared on close; the unique index over
// (school_id, open_marker) allows one open session per register.
type CashSession struct {
	ID             snowflake.ID               `gorm:"primaryKey" json:"id"`
	SchoolID       snowflake.ID               `gorm:"not null;uniqueIndex:ux_cash_sessions_open,priority:1" json:"school_id"`
	CashRegisterID snowflake.ID               `gorm:"not null;index" json:"cash_register_id"`
	OpenedBy       string                     `gorm:"type:varchar(64);not null" json:"opened_by"`
	OpenedAt       time.Time                  `gorm:"not null" json:"opened_at"`
	ClosedAt       *time.Time                 `json:"closed_at,omitempty"`
	ClosedBy       *string                    `gorm:"type:varchar(64)" json:"closed_by,omitempty"`
	OpenMarker     *snowflake.ID              `gorm:"uniqueIndex:ux_cash_sessions_open,priority:2" json:"-"`
	Totals         datatypes.JSONType[Totals] `json:"totals"`
	CreatedAt      time.Time                  `gorm:"not null" json:"created_at"`
}

func (CashSession) TableName() string { return "cash_sessions" }

func (s CashSession) IsOpen() bool {
	return s.ClosedAt == nil
}

type MethodTotal struct {
	PaymentMethodID snowflake.ID `json:"payment_method_id"`
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Count           int          `json:"count"`
	Amount          int64        `json:"amount"`
}

// Totals is the per-method breakdown of a session's payments.
type Totals struct {
	ByMethod   []MethodTotal `json:"by_method"`
	Count      int           `json:"count"`
	GrandTotal int64         `json:"grand_total"`
}

// Report is an X report (live, open session) or a Z report (stored, closed).
type Report struct {
	Kind     string       `json:"kind"`
	Session  CashSession  `json:"session"`
	Register CashRegister `json:"register"`
	Totals   Totals       `json:"totals"`
}

const (
	ReportKindX = "X"
	ReportKindZ = "Z"
)
