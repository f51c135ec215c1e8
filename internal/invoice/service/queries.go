package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	"github.com/smallbiznis/schoolledger/pkg/db/pagination"
	"github.com/smallbiznis/schoolledger/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) GetInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) (*domain.InvoiceDetail, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	invoice, err := s.repo.FindByID(ctx, s.db, schoolID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, schoolID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &domain.InvoiceDetail{Invoice: *invoice, Items: items}, nil
}

func (s *Service) ListInvoices(ctx context.Context, schoolID snowflake.ID, req domain.ListInvoicesRequest) (domain.ListInvoicesResponse, error) {
	if schoolID == 0 {
		return domain.ListInvoicesResponse{}, domain.ErrInvalidSchool
	}
	switch req.Status {
	case "", domain.InvoiceStatusOpen, domain.InvoiceStatusPartial, domain.InvoiceStatusPaid, domain.InvoiceStatusVoid:
	default:
		return domain.ListInvoicesResponse{}, domain.ErrInvalidStatus
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := pagination.Limit(req.PageSize)
	invoices, err := s.repo.List(ctx, s.db, domain.ListFilter{
		SchoolID:  schoolID,
		StudentID: req.StudentID,
		Status:    req.Status,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return domain.ListInvoicesResponse{}, err
	}

	invoices, pageInfo, err := pagination.Trim(invoices, limit, func(invoice domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: invoice.ID.String(), CreatedAt: invoice.CreatedAt.Format(time.RFC3339Nano)}
	})
	if err != nil {
		return domain.ListInvoicesResponse{}, err
	}
	return domain.ListInvoicesResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func (s *Service) ListRuns(ctx context.Context, schoolID snowflake.ID, limit int) ([]domain.InvoiceGenerationRun, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListRuns(ctx, s.db, schoolID, pagination.Limit(limit))
}

// VoidInvoice zeroes the balance of an unpaid invoice. Invoices with any
// payment recorded against them cannot be voided.
func (s *Service) VoidInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID, reason string) (*domain.Invoice, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}

	var voided *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithSchool(tx, int64(schoolID)); err != nil {
			return err
		}
		invoice, err := s.repo.FindForUpdate(ctx, tx, schoolID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		if invoice.VoidedAt != nil {
			return domain.ErrInvoiceVoid
		}
		if invoice.PaidTotal > 0 {
			return domain.ErrInvoiceHasPayments
		}

		now := s.clock.Now()
		invoice.VoidedAt = &now
		domain.Recompute(invoice, now)
		if err := s.repo.UpdateAmounts(ctx, tx, invoice); err != nil {
			return err
		}
		voided = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"balance_before": voided.Total + voided.LateFeeAccrued}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}
	s.audit(ctx, schoolID, "invoice.void", "invoice", voided.ID, metadata)
	s.notifier.Dispatch(ctx, invoiceEvent(notify.EventInvoiceVoided, *voided))
	s.log.Info("invoice voided",
		zap.String("school_id", schoolID.String()),
		zap.String("invoice_id", voided.ID.String()),
	)
	return voided, nil
}
