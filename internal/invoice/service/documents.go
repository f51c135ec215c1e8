package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/invoice/format"
	"github.com/smallbiznis/schoolledger/internal/providers/fiscal"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
	"go.uber.org/zap"
)

func (s *Service) RenderInvoicePDF(ctx context.Context, schoolID, invoiceID snowflake.ID) (io.Reader, error) {
	if s.pdf == nil {
		return nil, errors.New("pdf_renderer_not_configured")
	}
	detail, err := s.GetInvoice(ctx, schoolID, invoiceID)
	if err != nil {
		return nil, err
	}
	school, err := s.tenantSvc.Get(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	concepts, err := s.conceptIndex(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	invoice := detail.Invoice
	money := func(amount int64) string { return format.FormatMoney(amount, invoice.Currency) }

	data := pdf.InvoiceData{
		SchoolName:    school.Name,
		InvoiceNumber: derefString(invoice.InvoiceNumber),
		IssueDate:     invoice.CreatedAt.Format(time.DateOnly),
		DueDate:       invoice.DueDate.Format(time.DateOnly),
		StudentRef:    invoice.StudentID.String(),
		Concept:       concepts[invoice.ChargeConceptID].Name,
		Status:        string(invoice.Status),
		Subtotal:      money(invoice.Subtotal),
		Discount:      money(invoice.DiscountTotal),
		Tax:           money(invoice.TaxTotal),
		LateFee:       money(invoice.LateFeeAccrued),
		Total:         money(invoice.Total + invoice.LateFeeAccrued),
		Paid:          money(invoice.PaidTotal),
		Balance:       money(invoice.Balance),
	}
	if invoice.HasPeriod() {
		data.Period = fmt.Sprintf("%04d-%02d", invoice.PeriodYear, invoice.PeriodMonth)
	}
	for _, item := range detail.Items {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Code:        item.ConceptCode,
			Description: item.Description,
			Amount:      money(item.Amount),
		})
	}
	return s.pdf.GenerateInvoice(ctx, data)
}

// StampInvoice hands an invoice snapshot to the fiscal stamping service and
// returns its reference. Nothing is written to the ledger tables.
func (s *Service) StampInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) (*domain.StampResult, error) {
	if s.stamper == nil {
		return nil, domain.ErrStampingUnavailable
	}
	detail, err := s.GetInvoice(ctx, schoolID, invoiceID)
	if err != nil {
		return nil, err
	}
	invoice := detail.Invoice
	if invoice.Status == domain.InvoiceStatusVoid {
		return nil, domain.ErrInvoiceVoid
	}

	snapshot := fiscal.Snapshot{
		SchoolID:      invoice.SchoolID.String(),
		InvoiceID:     invoice.ID.String(),
		InvoiceNumber: derefString(invoice.InvoiceNumber),
		StudentID:     invoice.StudentID.String(),
		Currency:      invoice.Currency,
		Subtotal:      invoice.Subtotal,
		DiscountTotal: invoice.DiscountTotal,
		TaxTotal:      invoice.TaxTotal,
		Total:         invoice.Total,
		IssuedAt:      invoice.CreatedAt,
	}
	for _, item := range detail.Items {
		snapshot.Lines = append(snapshot.Lines, fiscal.SnapshotLine{
			Code:        item.ConceptCode,
			Description: item.Description,
			Amount:      item.Amount,
		})
	}

	stamp, err := s.stamper.Stamp(ctx, snapshot)
	if err != nil {
		if errors.Is(err, fiscal.ErrNotConfigured) {
			return nil, domain.ErrStampingUnavailable
		}
		s.log.Warn("fiscal stamping failed",
			zap.String("school_id", schoolID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("stamp invoice: %w", err)
	}

	s.audit(ctx, schoolID, "invoice.stamp", "invoice", invoice.ID, map[string]any{
		"reference": stamp.Reference,
	})
	return &domain.StampResult{
		InvoiceID: invoice.ID,
		Reference: stamp.Reference,
		StampedAt: stamp.StampedAt,
	}, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
