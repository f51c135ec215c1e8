package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/latefee/domain"
	"github.com/smallbiznis/schoolledger/internal/observability/metrics"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
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
	Clock       clock.Clock
	InvoiceRepo invoicedomain.Repository
	TenantSvc   tenantdomain.Service

	Metrics  *metrics.Metrics   `optional:"true"`
	Notifier *notify.Dispatcher `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	invoiceRepo invoicedomain.Repository
	tenantSvc   tenantdomain.Service
	metrics     *metrics.Metrics
	notifier    *notify.Dispatcher
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("latefee.service"),
		clock:       p.Clock,
		invoiceRepo: p.InvoiceRepo,
		tenantSvc:   p.TenantSvc,
		metrics:     p.Metrics,
		notifier:    p.Notifier,
	}
}

const day = 24 * time.Hour

func (s *Service) Accrue(ctx context.Context, schoolID snowflake.ID, asOf time.Time) (domain.Result, error) {
	var result domain.Result
	if schoolID == 0 {
		return result, domain.ErrInvalidSchool
	}
	if asOf.IsZero() {
		return result, domain.ErrInvalidAsOf
	}
	asOf = truncateDay(asOf)

	settings, err := s.tenantSvc.Settings(ctx, schoolID)
	if err != nil {
		return result, err
	}

	ids, err := s.invoiceRepo.ListLateFeeCandidateIDs(ctx, s.db, schoolID, asOf)
	if err != nil {
		return result, err
	}

	log := s.log.With(
		zap.String("school_id", schoolID.String()),
		zap.String("as_of", asOf.Format(time.DateOnly)),
	)

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result.Scanned++

		invoice, previous, changed, err := s.accrueOne(ctx, schoolID, id, asOf, settings.LateFeePerDiem)
		if err != nil {
			log.Warn("late fee accrual failed", zap.String("invoice_id", id.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("invoice %s: %w", id, err))
			continue
		}
		if !changed {
			continue
		}
		result.Updated++
		if previous == 0 && invoice.LateFeeAccrued > 0 {
			s.notifier.Dispatch(ctx, overdueEvent(*invoice))
		}
	}

	s.metrics.RecordLateFees(context.WithoutCancel(ctx), schoolID.String(), result.Updated)
	log.Info("late fee accrual finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
	)
	return result, errors.Join(errs...)
}

// accrueOne recomputes the fee from scratch under a row lock, so repeated or
// concurrent sweeps converge on the same value.
func (s *Service) accrueOne(ctx context.Context, schoolID, invoiceID snowflake.ID, asOf time.Time, perDiem int64) (*invoicedomain.Invoice, int64, bool, error) {
	var (
		updated  *invoicedomain.Invoice
		previous int64
		changed  bool
	)
	err := db.WithRetry(ctx, db.RetryPolicy{}, func(ctx context.Context) error {
		changed = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := rls.WithSchool(tx, int64(schoolID)); err != nil {
				return err
			}
			invoice, err := s.invoiceRepo.FindForUpdate(ctx, tx, schoolID, invoiceID)
			if err != nil {
				return err
			}
			if invoice == nil || !invoice.Status.Collectable() {
				return nil
			}

			fee := LateFee(truncateDay(invoice.DueDate), asOf, perDiem)
			if fee == invoice.LateFeeAccrued {
				return nil
			}
			previous = invoice.LateFeeAccrued
			invoice.LateFeeAccrued = fee
			invoicedomain.Recompute(invoice, s.clock.Now())
			if err := s.invoiceRepo.UpdateAmounts(ctx, tx, invoice); err != nil {
				return err
			}
			updated, changed = invoice, true
			return nil
		})
	})
	return updated, previous, changed, err
}

// LateFee is daysLate * perDiem with daysLate = floor((asOf - due) / 24h),
// never negative.
func LateFee(due, asOf time.Time, perDiem int64) int64 {
	if perDiem <= 0 || !asOf.After(due) {
		return 0
	}
	daysLate := int64(asOf.Sub(due) / day)
	return daysLate * perDiem
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func overdueEvent(invoice invoicedomain.Invoice) notify.Event {
	payload := map[string]any{
		"invoice_id":       invoice.ID.String(),
		"student_id":       invoice.StudentID.String(),
		"late_fee_accrued": invoice.LateFeeAccrued,
		"balance":          invoice.Balance,
		"currency":         invoice.Currency,
		"due_date":         invoice.DueDate.Format(time.DateOnly),
	}
	if invoice.InvoiceNumber != nil {
		payload["invoice_number"] = *invoice.InvoiceNumber
	}
	return notify.Event{
		Name:     notify.EventInvoiceOverdue,
		SchoolID: invoice.SchoolID.String(),
		Payload:  payload,
	}
}
