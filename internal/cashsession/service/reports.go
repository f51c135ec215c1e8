package service

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"github.com/smallbiznis/schoolledger/internal/invoice/format"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
)

// XReport recomputes the running totals of an open session. Nothing is
// stored.
func (s *Service) XReport(ctx context.Context, schoolID, sessionID snowflake.ID) (*domain.Report, error) {
	session, register, err := s.load(ctx, schoolID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, &domain.AlreadyClosedError{SessionID: session.ID}
	}
	totals, err := s.totals(ctx, s.db, schoolID, session.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Report{
		Kind:     domain.ReportKindX,
		Session:  *session,
		Register: *register,
		Totals:   totals,
	}, nil
}

// ZReport returns the snapshot taken when the session was closed.
func (s *Service) ZReport(ctx context.Context, schoolID, sessionID snowflake.ID) (*domain.Report, error) {
	session, register, err := s.load(ctx, schoolID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsOpen() {
		return nil, domain.ErrSessionOpen
	}
	return &domain.Report{
		Kind:     domain.ReportKindZ,
		Session:  *session,
		Register: *register,
		Totals:   session.Totals.Data(),
	}, nil
}

func (s *Service) RenderZReportPDF(ctx context.Context, schoolID, sessionID snowflake.ID) (io.Reader, error) {
	if s.pdf == nil {
		return nil, domain.ErrRendererMissing
	}
	report, err := s.ZReport(ctx, schoolID, sessionID)
	if err != nil {
		return nil, err
	}
	school, err := s.tenantSvc.Get(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	settings, err := s.tenantSvc.Settings(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	money := func(amount int64) string { return format.FormatMoney(amount, settings.Currency) }

	session := report.Session
	data := pdf.ZReportData{
		SchoolName:   school.Name,
		RegisterName: report.Register.Name,
		SessionID:    session.ID.String(),
		OpenedAt:     session.OpenedAt.Format(time.DateTime),
		OpenedBy:     session.OpenedBy,
		Count:        report.Totals.Count,
		GrandTotal:   money(report.Totals.GrandTotal),
	}
	if session.ClosedAt != nil {
		data.ClosedAt = session.ClosedAt.Format(time.DateTime)
	}
	if session.ClosedBy != nil {
		data.ClosedBy = *session.ClosedBy
	}
	for _, line := range report.Totals.ByMethod {
		label := line.Name
		if label == "" {
			label = line.Code
		}
		data.Lines = append(data.Lines, pdf.ZReportLine{
			Method: label,
			Count:  line.Count,
			Amount: money(line.Amount),
		})
	}
	return s.pdf.GenerateZReport(ctx, data)
}

func (s *Service) load(ctx context.Context, schoolID, sessionID snowflake.ID) (*domain.CashSession, *domain.CashRegister, error) {
	session, err := s.GetSession(ctx, schoolID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	register, err := s.repo.FindRegister(ctx, s.db, schoolID, session.CashRegisterID)
	if err != nil {
		return nil, nil, err
	}
	if register == nil {
		return nil, nil, domain.ErrRegisterNotFound
	}
	return session, register, nil
}

func sortMethodTotals(lines []domain.MethodTotal) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Code != lines[j].Code {
			return lines[i].Code < lines[j].Code
		}
		return lines[i].PaymentMethodID < lines[j].PaymentMethodID
	})
}
