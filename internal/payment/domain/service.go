package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"gorm.io/gorm"
)

type UpsertMethodRequest struct {
	ID       snowflake.ID `json:"id"`
	Code     string       `json:"code"`
	Name     string       `json:"name"`
	IsActive *bool        `json:"is_active"`
}

// ApplyRequest targets exactly one of InvoiceID or StudentID. In student mode
// the amount is allocated to the oldest open invoices first.
type ApplyRequest struct {
	SchoolID       snowflake.ID  `json:"-"`
	InvoiceID      snowflake.ID  `json:"invoice_id"`
	StudentID      snowflake.ID  `json:"student_id"`
	Amount         int64         `json:"amount"`
	MethodID       snowflake.ID  `json:"payment_method_id"`
	CashierUserID  string        `json:"-"`
	SessionID      *snowflake.ID `json:"session_id"`
	PaidAt         *time.Time    `json:"paid_at"`
	Ref            string        `json:"ref"`
	Note           string        `json:"note"`
	IdempotencyKey string        `json:"idempotency_key"`
	AllowCredit    bool          `json:"allow_credit"`
}

type ApplyResult struct {
	Payments  []Payment               `json:"payments"`
	Invoices  []invoicedomain.Invoice `json:"invoices"`
	Unapplied int64                   `json:"unapplied"`
	Replayed  bool                    `json:"replayed"`
}

type ListPaymentsRequest struct {
	InvoiceID snowflake.ID
	SessionID snowflake.ID
	StudentID snowflake.ID
}

type Service interface {
	UpsertMethod(ctx context.Context, schoolID snowflake.ID, req UpsertMethodRequest) (*PaymentMethod, error)
	ListMethods(ctx context.Context, schoolID snowflake.ID, activeOnly bool) ([]PaymentMethod, error)

	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
	ListPayments(ctx context.Context, schoolID snowflake.ID, req ListPaymentsRequest) ([]Payment, error)
}

type Repository interface {
	InsertMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	UpdateMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	FindMethod(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*PaymentMethod, error)
	ListMethods(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, activeOnly bool) ([]PaymentMethod, error)

	// ClaimIdempotencyKey reports false when the key was already claimed.
	ClaimIdempotencyKey(ctx context.Context, db *gorm.DB, request *PaymentRequest) (bool, error)
	InsertPayments(ctx context.Context, db *gorm.DB, payments []Payment) error
	ListByIdempotencyKey(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, key string) ([]Payment, error)
	List(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req ListPaymentsRequest) ([]Payment, error)
	TotalsBySession(ctx context.Context, db *gorm.DB, schoolID, sessionID snowflake.ID) ([]MethodTotal, error)
}

var (
	ErrInvalidSchool      = errors.New("invalid_school")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidTarget      = errors.New("invalid_payment_target")
	ErrInvalidCashier     = errors.New("invalid_cashier")
	ErrInvalidMethodCode  = errors.New("invalid_method_code")
	ErrMethodCodeTaken    = errors.New("method_code_taken")
	ErrMethodNotFound     = errors.New("payment_method_not_found")
	ErrMethodInactive     = errors.New("payment_method_inactive")
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrSessionClosed      = errors.New("session_closed")
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvoiceVoid        = errors.New("invoice_void")
	ErrNothingOutstanding = errors.New("nothing_outstanding")
	ErrOverpayment        = errors.New("overpayment")
	ErrIdempotencyKeyUsed = errors.New("idempotency_key_in_use")
)

// OverpaymentError reports an amount larger than what is owed. Outstanding is
// the balance of the invoice, or the sum of balances in student mode.
type OverpaymentError struct {
	Amount      int64
	Outstanding int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment: amount %d exceeds outstanding balance %d", e.Amount, e.Outstanding)
}

func (e *OverpaymentError) Is(target error) bool {
	return target == ErrOverpayment
}
