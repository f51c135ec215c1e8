package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentMethod struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	SchoolID  snowflake.ID `json:"school_id" gorm:"not null;uniqueIndex:ux_payment_methods_code,priority:1"`
	Code      string       `json:"code" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_methods_code,priority:2"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	IsActive  bool         `json:"is_active" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// Payment is immutable once written. A request with an idempotency key that
// spans several invoices writes one row per invoice under the same key.
type Payment struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	SchoolID        snowflake.ID  `json:"school_id" gorm:"not null;uniqueIndex:ux_payments_idempotency,priority:1"`
	InvoiceID       snowflake.ID  `json:"invoice_id" gorm:"not null;index;uniqueIndex:ux_payments_idempotency,priority:3"`
	PaymentMethodID snowflake.ID  `json:"payment_method_id" gorm:"not null"`
	Amount          int64         `json:"amount" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:varchar(3);not null"`
	PaidAt          time.Time     `json:"paid_at" gorm:"not null"`
	Ref             *string       `json:"ref,omitempty" gorm:"type:varchar(128)"`
	CashierUserID   string        `json:"cashier_user_id" gorm:"type:varchar(64);not null"`
	SessionID       *snowflake.ID `json:"session_id,omitempty" gorm:"index"`
	Note            *string       `json:"note,omitempty" gorm:"type:text"`
	IdempotencyKey  *string       `json:"idempotency_key,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_payments_idempotency,priority:2"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// PaymentRequest claims an idempotency key once per request, however many
// invoices the amount is spread over.
type PaymentRequest struct {
	SchoolID       snowflake.ID `json:"school_id" gorm:"primaryKey;autoIncrement:false"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"primaryKey;type:varchar(128)"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (PaymentRequest) TableName() string { return "payment_requests" }

// MethodTotal aggregates the payments of one method.
type MethodTotal struct {
	PaymentMethodID snowflake.ID
	Count           int
	Amount          int64
}
