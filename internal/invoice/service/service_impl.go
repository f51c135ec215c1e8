package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/internal/clock"
	"github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/invoice/format"
	"github.com/smallbiznis/schoolledger/internal/observability/metrics"
	"github.com/smallbiznis/schoolledger/internal/proration"
	"github.com/smallbiznis/schoolledger/internal/providers/fiscal"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"github.com/smallbiznis/schoolledger/pkg/rls"
	"github.com/smallbiznis/schoolledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	CatalogSvc catalogdomain.Service
	TenantSvc  tenantdomain.Service

	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Notifier *notify.Dispatcher  `optional:"true"`
	PDF      pdf.Provider        `optional:"true"`
	Stamper  fiscal.Stamper      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	catalogSvc catalogdomain.Service
	tenantSvc  tenantdomain.Service

	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	notifier *notify.Dispatcher
	pdf      pdf.Provider
	stamper  fiscal.Stamper
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalogSvc: p.CatalogSvc,
		tenantSvc:  p.TenantSvc,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
		notifier:   p.Notifier,
		pdf:        p.PDF,
		stamper:    p.Stamper,
	}
}

// Generate bills every active assignment for each period of the range.
// Existing invoices are skipped, failures are noted and the loop moves on.
// When ctx ends mid-run the partial run is still recorded and ctx.Err() is
// returned with it.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.InvoiceGenerationRun, error) {
	if req.SchoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	from, err := period.Parse(strings.TrimSpace(req.FromMonth))
	if err != nil {
		return nil, fmt.Errorf("%w: from_month %q", domain.ErrInvalidPeriod, req.FromMonth)
	}
	to, err := period.Parse(strings.TrimSpace(req.ToMonth))
	if err != nil {
		return nil, fmt.Errorf("%w: to_month %q", domain.ErrInvalidPeriod, req.ToMonth)
	}
	if from.After(to) {
		return nil, domain.ErrInvalidRange
	}
	requested, err := parseMonths(req.CustomMonths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPeriod, err)
	}

	settings, err := s.tenantSvc.Settings(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	log := s.log.With(
		zap.String("school_id", req.SchoolID.String()),
		zap.String("correlation_id", correlationID),
		zap.String("from_month", from.String()),
		zap.String("to_month", to.String()),
	)

	billables, err := s.catalogSvc.ListBillableAssignments(ctx, req.SchoolID, from, to)
	if err != nil {
		return nil, err
	}
	concepts, err := s.conceptIndex(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}

	run := &domain.InvoiceGenerationRun{
		ID:            s.genID.Generate(),
		SchoolID:      req.SchoolID,
		RunAt:         s.clock.Now(),
		FromMonth:     from.String(),
		ToMonth:       to.String(),
		Notes:         []string{},
		CorrelationID: correlationID,
	}

	var (
		created []domain.Invoice
		runErr  error
	)
loop:
	for _, billable := range billables {
		assignment := billable.Assignment
		months, err := billingMonths(billable, from, to, requested)
		if err != nil {
			run.Failed++
			run.Notes = append(run.Notes, fmt.Sprintf("assignment %s: %v", assignment.ID, err))
			continue
		}

		for _, month := range months {
			if err := ctx.Err(); err != nil {
				runErr = err
				run.Notes = append(run.Notes, fmt.Sprintf("cancelled after %d invoices: %v", run.CreatedInvoices+run.Skipped+run.Failed, err))
				break loop
			}

			invoice, inserted, err := s.generateOne(ctx, settings, billable, concepts[billable.Plan.ChargeConceptID], month)
			switch {
			case err != nil:
				run.Failed++
				run.Notes = append(run.Notes, fmt.Sprintf("assignment %s period %s: %v", assignment.ID, month, err))
				log.Warn("invoice generation failed",
					zap.String("assignment_id", assignment.ID.String()),
					zap.String("period", month.String()),
					zap.Error(err),
				)
			case !inserted:
				run.Skipped++
			default:
				run.CreatedInvoices++
				created = append(created, *invoice)
			}
		}
	}

	persistCtx := ctx
	if runErr != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	if err := s.repo.InsertRun(persistCtx, s.db, run); err != nil {
		return nil, errors.Join(runErr, err)
	}

	s.metrics.RecordGeneration(persistCtx, req.SchoolID.String(), run.CreatedInvoices, run.Skipped)
	for _, invoice := range created {
		s.notifier.Dispatch(persistCtx, invoiceEvent(notify.EventInvoiceCreated, invoice))
	}
	s.audit(persistCtx, req.SchoolID, "invoice.generation_run", "invoice_generation_run", run.ID, map[string]any{
		"from_month":       run.FromMonth,
		"to_month":         run.ToMonth,
		"created_invoices": run.CreatedInvoices,
		"skipped":          run.Skipped,
		"failed":           run.Failed,
		"correlation_id":   correlationID,
	})

	log.Info("invoice generation finished",
		zap.Int("created", run.CreatedInvoices),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
	)
	return run, runErr
}

func (s *Service) generateOne(
	ctx context.Context,
	settings tenantdomain.Settings,
	billable catalogdomain.BillableAssignment,
	concept catalogdomain.ChargeConcept,
	month period.Month,
) (*domain.Invoice, bool, error) {
	plan, assignment := billable.Plan, billable.Assignment

	amount, err := proration.ComputeCharge(plan, assignment, month)
	if err != nil {
		return nil, false, err
	}
	items, err := s.buildItems(billable, concept, month, amount)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	currency := plan.Currency
	if currency == "" {
		currency = settings.Currency
	}
	invoice := domain.Invoice{
		ID:              s.genID.Generate(),
		SchoolID:        assignment.SchoolID,
		StudentID:       assignment.StudentID,
		ChargeConceptID: plan.ChargeConceptID,
		PeriodMonth:     int(month.Month),
		PeriodYear:      month.Year,
		PlanID:          plan.ID,
		AssignmentID:    assignment.ID,
		Currency:        currency,
		DueDate:         month.Date(settings.InvoiceDueDay),
		Subtotal:        amount,
		CreatedAt:       now,
	}
	domain.Recompute(&invoice, now)
	for i := range items {
		items[i].InvoiceID = invoice.ID
	}

	var inserted bool
	err = db.WithRetry(ctx, db.RetryPolicy{}, func(ctx context.Context) error {
		invoice.InvoiceNumber = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := rls.WithSchool(tx, int64(invoice.SchoolID)); err != nil {
				return err
			}
			ok, err := s.repo.InsertIfAbsent(ctx, tx, &invoice)
			if err != nil {
				return err
			}
			inserted = ok
			if !ok {
				return nil
			}

			seq, err := s.repo.NextSequence(ctx, tx, invoice.SchoolID)
			if err != nil {
				return err
			}
			number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, now, seq)
			if err != nil {
				return err
			}
			if err := s.repo.SetNumber(ctx, tx, invoice.SchoolID, invoice.ID, number); err != nil {
				return err
			}
			invoice.InvoiceNumber = &number

			return s.repo.InsertItems(ctx, tx, items)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return &invoice, inserted, nil
}

// buildItems splits amount across the plan items by their configured amounts.
// A plan without items yields a single line for the whole amount.
func (s *Service) buildItems(billable catalogdomain.BillableAssignment, concept catalogdomain.ChargeConcept, month period.Month, amount int64) ([]domain.InvoiceItem, error) {
	schoolID := billable.Assignment.SchoolID
	if len(billable.Items) == 0 {
		code := concept.Code
		if code == "" {
			code = "PLAN"
		}
		return []domain.InvoiceItem{{
			ID:          s.genID.Generate(),
			SchoolID:    schoolID,
			ConceptCode: code,
			Description: describe(billable.Plan.Name, month),
			Amount:      amount,
		}}, nil
	}

	planItems := make([]catalogdomain.PaymentPlanItem, len(billable.Items))
	copy(planItems, billable.Items)
	sort.SliceStable(planItems, func(i, j int) bool {
		return planItems[i].SortOrder < planItems[j].SortOrder
	})
	weights := make([]int64, len(planItems))
	for i, item := range planItems {
		weights[i] = item.Amount
	}
	shares, err := proration.SplitAmount(amount, weights)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InvoiceItem, len(planItems))
	for i, item := range planItems {
		items[i] = domain.InvoiceItem{
			ID:          s.genID.Generate(),
			SchoolID:    schoolID,
			ConceptCode: item.ConceptCode,
			Description: describe(item.ConceptCode, month),
			Amount:      shares[i],
			SortOrder:   i,
		}
	}
	return items, nil
}

func (s *Service) conceptIndex(ctx context.Context, schoolID snowflake.ID) (map[snowflake.ID]catalogdomain.ChargeConcept, error) {
	concepts, err := s.catalogSvc.ListChargeConcepts(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]catalogdomain.ChargeConcept, len(concepts))
	for _, concept := range concepts {
		out[concept.ID] = concept
	}
	return out, nil
}

// billingMonths lists the periods one assignment owes inside [from, to].
func billingMonths(billable catalogdomain.BillableAssignment, from, to period.Month, requested []period.Month) ([]period.Month, error) {
	plan, assignment := billable.Plan, billable.Assignment
	effective, err := period.Parse(assignment.EffectiveMonth)
	if err != nil {
		return nil, fmt.Errorf("effective month: %w", err)
	}
	last := to
	if plan.EndMonth != nil {
		end, err := period.Parse(*plan.EndMonth)
		if err != nil {
			return nil, fmt.Errorf("plan end month: %w", err)
		}
		last = period.Min(end, to)
	}

	switch plan.Cadence {
	case catalogdomain.CadenceOnce:
		if effective.Before(from) || effective.After(to) {
			return nil, nil
		}
		return []period.Month{effective}, nil
	case catalogdomain.CadenceMonthly:
		return period.Range(period.Max(effective, from), last), nil
	case catalogdomain.CadenceCustom:
		source := requested
		if len(assignment.CustomMonths) > 0 {
			if source, err = parseMonths(assignment.CustomMonths); err != nil {
				return nil, err
			}
		}
		first := period.Max(effective, from)
		seen := make(map[period.Month]struct{}, len(source))
		out := make([]period.Month, 0, len(source))
		for _, m := range source {
			if m.Before(first) || m.After(last) {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cadence %q", plan.Cadence)
	}
}

func parseMonths(raw []string) ([]period.Month, error) {
	out := make([]period.Month, 0, len(raw))
	for _, value := range raw {
		m, err := period.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func describe(label string, month period.Month) string {
	return strings.TrimSpace(label) + " " + month.String()
}

func invoiceEvent(name string, invoice domain.Invoice) notify.Event {
	payload := map[string]any{
		"invoice_id": invoice.ID.String(),
		"student_id": invoice.StudentID.String(),
		"total":      invoice.Total,
		"balance":    invoice.Balance,
		"currency":   invoice.Currency,
		"due_date":   invoice.DueDate.Format(time.DateOnly),
	}
	if invoice.InvoiceNumber != nil {
		payload["invoice_number"] = *invoice.InvoiceNumber
	}
	return notify.Event{
		Name:     name,
		SchoolID: invoice.SchoolID.String(),
		Payload:  payload,
	}
}

func (s *Service) audit(ctx context.Context, schoolID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		SchoolID:   schoolID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Metadata:   metadata,
	})
}
