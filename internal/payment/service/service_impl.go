package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/observability/metrics"
	"github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	"github.com/smallbiznis/schoolledger/internal/ratelimit"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"github.com/smallbiznis/schoolledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	InvoiceRepo invoicedomain.Repository
	SessionRepo cashsessiondomain.Repository

	Guard    *ratelimit.PaymentGuard `optional:"true"`
	AuditSvc auditdomain.Service     `optional:"true"`
	Metrics  *metrics.Metrics        `optional:"true"`
	Notifier *notify.Dispatcher      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	invoiceRepo invoicedomain.Repository
	sessionRepo cashsessiondomain.Repository

	guard    *ratelimit.PaymentGuard
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	notifier *notify.Dispatcher
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		sessionRepo: p.SessionRepo,
		guard:       p.Guard,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		notifier:    p.Notifier,
	}
}

// Apply records a payment against one invoice or, when only a student is
// given, spreads it over the student's open invoices oldest first. All
// touched invoices and payment rows are written in a single transaction,
// together with the idempotency claim and the session check.
// Storage errors are returned as is; callers retry with the same
// idempotency key.
func (s *Service) Apply(ctx context.Context, req domain.ApplyRequest) (*domain.ApplyResult, error) {
	if err := validateApply(&req); err != nil {
		return nil, err
	}
	log := s.log.With(
		zap.String("school_id", req.SchoolID.String()),
		zap.String("cashier_user_id", req.CashierUserID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	if s.guard != nil {
		if err := s.guard.AllowCashier(ctx, req.SchoolID.String(), req.CashierUserID); err != nil {
			return nil, err
		}
		release, err := s.guard.AcquireKey(ctx, req.SchoolID.String(), req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if req.IdempotencyKey != "" {
		result, err := s.replay(ctx, req.SchoolID, req.IdempotencyKey)
		if err != nil || result != nil {
			return result, err
		}
	}

	method, err := s.repo.FindMethod(ctx, s.db, req.SchoolID, req.MethodID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, domain.ErrMethodNotFound
	}
	if !method.IsActive {
		return nil, domain.ErrMethodInactive
	}

	now := s.clock.Now()
	paidAt := now
	if req.PaidAt != nil && !req.PaidAt.IsZero() {
		paidAt = req.PaidAt.UTC()
	}

	result := &domain.ApplyResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithSchool(tx, int64(req.SchoolID)); err != nil {
			return err
		}
		if err := s.claimKey(ctx, tx, req, now); err != nil {
			return err
		}
		if err := s.lockSession(ctx, tx, req); err != nil {
			return err
		}
		targets, err := s.lockTargets(ctx, tx, req)
		if err != nil {
			return err
		}
		allocations, unapplied, err := allocate(targets, req.Amount, req.InvoiceID != 0 && req.AllowCredit)
		if err != nil {
			return err
		}

		payments := make([]domain.Payment, 0, len(allocations))
		invoices := make([]invoicedomain.Invoice, 0, len(allocations))
		for _, alloc := range allocations {
			invoice := alloc.invoice
			invoice.PaidTotal += alloc.amount
			invoicedomain.Recompute(invoice, now)
			if err := s.invoiceRepo.UpdateAmounts(ctx, tx, invoice); err != nil {
				return err
			}
			payments = append(payments, domain.Payment{
				ID:              s.genID.Generate(),
				SchoolID:        req.SchoolID,
				InvoiceID:       invoice.ID,
				PaymentMethodID: method.ID,
				Amount:          alloc.amount,
				Currency:        invoice.Currency,
				PaidAt:          paidAt,
				Ref:             optionalString(req.Ref),
				CashierUserID:   req.CashierUserID,
				SessionID:       req.SessionID,
				Note:            optionalString(req.Note),
				IdempotencyKey:  optionalString(req.IdempotencyKey),
				CreatedAt:       now,
			})
			invoices = append(invoices, *invoice)
		}
		if err := s.repo.InsertPayments(ctx, tx, payments); err != nil {
			return err
		}
		result.Payments = payments
		result.Invoices = invoices
		result.Unapplied = unapplied
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && (errors.Is(err, domain.ErrIdempotencyKeyUsed) || db.IsDuplicateKeyErr(err)) {
			log.Info("idempotency key claimed by a concurrent request, replaying")
			replayed, rerr := s.replay(ctx, req.SchoolID, req.IdempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			if replayed != nil {
				return replayed, nil
			}
			return nil, domain.ErrIdempotencyKeyUsed
		}
		return nil, err
	}

	var applied int64
	for _, payment := range result.Payments {
		applied += payment.Amount
		s.metrics.RecordPayment(ctx, req.SchoolID.String(), method.Code, payment.Currency, payment.Amount)
		s.notifier.Dispatch(ctx, paymentEvent(payment, method))
	}
	log.Info("payment applied",
		zap.Int("invoices", len(result.Invoices)),
		zap.Int64("applied", applied),
		zap.Int64("unapplied", result.Unapplied),
	)
	s.audit(ctx, req.SchoolID, "payment.apply", "payment", result.Payments[0].ID, map[string]any{
		"method":     method.Code,
		"amount":     req.Amount,
		"applied":    applied,
		"unapplied":  result.Unapplied,
		"invoices":   len(result.Invoices),
		"session_id": sessionString(req.SessionID),
	})
	return result, nil
}

// claimKey is the first write of the payment transaction. Only one
// request per key gets past it; the others wait for that transaction and
// then replay what it recorded.
func (s *Service) claimKey(ctx context.Context, tx *gorm.DB, req domain.ApplyRequest, now time.Time) error {
	if req.IdempotencyKey == "" {
		return nil
	}
	claimed, err := s.repo.ClaimIdempotencyKey(ctx, tx, &domain.PaymentRequest{
		SchoolID:       req.SchoolID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrIdempotencyKeyUsed
	}
	return nil
}

// lockSession holds a share lock on the session until commit, so a close
// either sees this payment in its totals or happens before it.
func (s *Service) lockSession(ctx context.Context, tx *gorm.DB, req domain.ApplyRequest) error {
	if req.SessionID == nil {
		return nil
	}
	session, err := s.sessionRepo.FindSessionForShare(ctx, tx, req.SchoolID, *req.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}
	if !session.IsOpen() {
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Service) lockTargets(ctx context.Context, tx *gorm.DB, req domain.ApplyRequest) ([]*invoicedomain.Invoice, error) {
	if req.InvoiceID != 0 {
		invoice, err := s.invoiceRepo.FindForUpdate(ctx, tx, req.SchoolID, req.InvoiceID)
		if err != nil {
			return nil, err
		}
		if invoice == nil {
			return nil, domain.ErrInvoiceNotFound
		}
		if invoice.Status == invoicedomain.InvoiceStatusVoid {
			return nil, domain.ErrInvoiceVoid
		}
		if !invoice.Status.Collectable() || invoice.Balance <= 0 {
			return nil, domain.ErrNothingOutstanding
		}
		return []*invoicedomain.Invoice{invoice}, nil
	}

	rows, err := s.invoiceRepo.ListCollectableForUpdate(ctx, tx, req.SchoolID, req.StudentID)
	if err != nil {
		return nil, err
	}
	targets := make([]*invoicedomain.Invoice, 0, len(rows))
	for i := range rows {
		if rows[i].Balance > 0 {
			targets = append(targets, &rows[i])
		}
	}
	if len(targets) == 0 {
		return nil, domain.ErrNothingOutstanding
	}
	return targets, nil
}

type allocation struct {
	invoice *invoicedomain.Invoice
	amount  int64
}

// allocate walks targets in order, filling each balance before moving on.
// Anything left over is an overpayment unless credit is allowed, in which
// case it is reported back as unapplied.
func allocate(targets []*invoicedomain.Invoice, amount int64, allowCredit bool) ([]allocation, int64, error) {
	var outstanding int64
	for _, invoice := range targets {
		outstanding += invoice.Balance
	}
	if amount > outstanding && !allowCredit {
		return nil, 0, &domain.OverpaymentError{Amount: amount, Outstanding: outstanding}
	}

	remaining := amount
	allocations := make([]allocation, 0, len(targets))
	for _, invoice := range targets {
		if remaining == 0 {
			break
		}
		applied := min(remaining, invoice.Balance)
		if applied <= 0 {
			continue
		}
		allocations = append(allocations, allocation{invoice: invoice, amount: applied})
		remaining -= applied
	}
	return allocations, remaining, nil
}

// replay returns the payments already recorded under key, or nil when the
// key has not been used.
func (s *Service) replay(ctx context.Context, schoolID snowflake.ID, key string) (*domain.ApplyResult, error) {
	payments, err := s.repo.ListByIdempotencyKey(ctx, s.db, schoolID, key)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	invoices := make([]invoicedomain.Invoice, 0, len(payments))
	for _, payment := range payments {
		invoice, err := s.invoiceRepo.FindByID(ctx, s.db, schoolID, payment.InvoiceID)
		if err != nil {
			return nil, err
		}
		if invoice != nil {
			invoices = append(invoices, *invoice)
		}
	}
	return &domain.ApplyResult{Payments: payments, Invoices: invoices, Replayed: true}, nil
}

func validateApply(req *domain.ApplyRequest) error {
	req.CashierUserID = strings.TrimSpace(req.CashierUserID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Ref = strings.TrimSpace(req.Ref)
	req.Note = strings.TrimSpace(req.Note)

	switch {
	case req.SchoolID == 0:
		return domain.ErrInvalidSchool
	case req.Amount <= 0:
		return domain.ErrInvalidAmount
	case (req.InvoiceID == 0) == (req.StudentID == 0):
		return domain.ErrInvalidTarget
	case req.MethodID == 0:
		return domain.ErrMethodNotFound
	case req.CashierUserID == "":
		return domain.ErrInvalidCashier
	}
	if req.SessionID != nil && *req.SessionID == 0 {
		req.SessionID = nil
	}
	return nil
}

func paymentEvent(payment domain.Payment, method *domain.PaymentMethod) notify.Event {
	return notify.Event{
		Name:     notify.EventPaymentApplied,
		SchoolID: payment.SchoolID.String(),
		Payload: map[string]any{
			"payment_id": payment.ID.String(),
			"invoice_id": payment.InvoiceID.String(),
			"amount":     payment.Amount,
			"currency":   payment.Currency,
			"method":     method.Code,
			"paid_at":    payment.PaidAt.Format(time.RFC3339),
		},
	}
}

func (s *Service) audit(ctx context.Context, schoolID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		SchoolID:   schoolID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Metadata:   metadata,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func sessionString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
