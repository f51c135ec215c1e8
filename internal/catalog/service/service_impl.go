package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/internal/clock"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	TenantSvc tenantdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	tenantSvc tenantdomain.Service
	auditSvc  auditdomain.Service
	validate  *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("catalog.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		tenantSvc: p.TenantSvc,
		auditSvc:  p.AuditSvc,
		validate:  newValidator(),
	}
}

func (s *Service) UpsertChargeConcept(ctx context.Context, schoolID snowflake.ID, req domain.UpsertChargeConceptRequest) (*domain.ChargeConcept, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if verrs := validateStruct(s.validate, req); len(verrs) > 0 {
		return nil, verrs
	}

	if req.ID == 0 {
		concept := domain.ChargeConcept{
			ID:        s.genID.Generate(),
			SchoolID:  schoolID,
			Code:      req.Code,
			Name:      req.Name,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertConcept(ctx, s.db, &concept); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil, domain.ErrConceptCodeTaken
			}
			return nil, err
		}
		return &concept, nil
	}

	concept, err := s.repo.FindConcept(ctx, s.db, schoolID, req.ID)
	if err != nil {
		return nil, err
	}
	if concept == nil {
		return nil, domain.ErrConceptNotFound
	}
	concept.Code = req.Code
	concept.Name = req.Name
	if err := s.repo.UpdateConcept(ctx, s.db, concept); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrConceptCodeTaken
		}
		return nil, err
	}
	return concept, nil
}

func (s *Service) ListChargeConcepts(ctx context.Context, schoolID snowflake.ID) ([]domain.ChargeConcept, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListConcepts(ctx, s.db, schoolID)
}

func (s *Service) UpsertPlan(ctx context.Context, schoolID snowflake.ID, req domain.UpsertPlanRequest) (*domain.PaymentPlan, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Proration == "" {
		req.Proration = domain.ProrationNone
	}

	verrs := validateStruct(s.validate, req)
	if len(verrs) == 0 && req.EndMonth != nil {
		start, _ := period.Parse(req.StartMonth)
		end, _ := period.Parse(*req.EndMonth)
		if end.Before(start) {
			verrs.Add("end_month", "before_start", "Must not be before start_month")
		}
	}
	if req.ChargeConceptID != 0 {
		concept, err := s.repo.FindConcept(ctx, s.db, schoolID, req.ChargeConceptID)
		if err != nil {
			return nil, err
		}
		if concept == nil {
			verrs.Add("charge_concept_id", "not_found", "Charge concept does not exist in this school")
		}
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	if req.Currency == "" {
		settings, err := s.tenantSvc.Settings(ctx, schoolID)
		if err != nil {
			return nil, err
		}
		req.Currency = settings.Currency
	}

	now := s.clock.Now()
	if req.ID == 0 {
		plan := domain.PaymentPlan{
			ID:              s.genID.Generate(),
			SchoolID:        schoolID,
			ChargeConceptID: req.ChargeConceptID,
			Name:            req.Name,
			LevelID:         req.LevelID,
			Cadence:         req.Cadence,
			Amount:          req.Amount,
			Currency:        req.Currency,
			StartMonth:      req.StartMonth,
			EndMonth:        req.EndMonth,
			Proration:       req.Proration,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.InsertPlan(ctx, s.db, &plan); err != nil {
			return nil, err
		}
		s.audit(ctx, schoolID, "plan.create", plan.ID, map[string]any{"amount": plan.Amount, "cadence": string(plan.Cadence)})
		return &plan, nil
	}

	plan, err := s.repo.FindPlan(ctx, s.db, schoolID, req.ID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	verrs, err = s.checkPlanInUse(ctx, plan, req)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		return nil, verrs
	}
	plan.ChargeConceptID = req.ChargeConceptID
	plan.Name = req.Name
	plan.LevelID = req.LevelID
	plan.Cadence = req.Cadence
	plan.Amount = req.Amount
	plan.Currency = req.Currency
	plan.StartMonth = req.StartMonth
	plan.EndMonth = req.EndMonth
	plan.Proration = req.Proration
	plan.UpdatedAt = now
	if err := s.repo.UpdatePlan(ctx, s.db, plan); err != nil {
		return nil, err
	}
	s.audit(ctx, schoolID, "plan.update", plan.ID, map[string]any{"amount": plan.Amount, "cadence": string(plan.Cadence)})
	return plan, nil
}

// checkPlanInUse rejects edits that would change what existing assignments
// bill. The concept is part of the invoice key, so changing it would bill
// already invoiced periods again.
func (s *Service) checkPlanInUse(ctx context.Context, plan *domain.PaymentPlan, req domain.UpsertPlanRequest) (domain.ValidationErrors, error) {
	span, err := s.repo.AssignmentSpan(ctx, s.db, plan.SchoolID, plan.ID)
	if err != nil {
		return nil, err
	}
	if span.Count == 0 {
		return nil, nil
	}

	var verrs domain.ValidationErrors
	if req.ChargeConceptID != plan.ChargeConceptID {
		verrs.Add("charge_concept_id", "plan_in_use", "Cannot change while the plan has assignments")
	}
	if req.Cadence != plan.Cadence {
		verrs.Add("cadence", "plan_in_use", "Cannot change while the plan has assignments")
	}
	if req.StartMonth > span.EarliestMonth {
		verrs.Add("start_month", "after_assignment", "Must not be after the earliest assignment effective_month "+span.EarliestMonth)
	}
	if req.EndMonth != nil && *req.EndMonth < span.LatestMonth {
		verrs.Add("end_month", "before_assignment", "Must not be before the latest assignment effective_month "+span.LatestMonth)
	}
	return verrs, nil
}

func (s *Service) DeactivatePlan(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) (*domain.PaymentPlan, error) {
	plan, err := s.GetPlan(ctx, schoolID, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return plan, nil
	}
	plan.IsActive = false
	plan.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdatePlan(ctx, s.db, plan); err != nil {
		return nil, err
	}
	s.audit(ctx, schoolID, "plan.deactivate", plan.ID, nil)
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) (*domain.PaymentPlan, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	plan, err := s.repo.FindPlan(ctx, s.db, schoolID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context, schoolID snowflake.ID, req domain.ListPlansRequest) ([]domain.PaymentPlan, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListPlans(ctx, s.db, schoolID, req)
}

func (s *Service) UpsertPlanItem(ctx context.Context, schoolID snowflake.ID, req domain.UpsertPlanItemRequest) (*domain.PaymentPlanItem, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	req.ConceptCode = strings.ToUpper(strings.TrimSpace(req.ConceptCode))
	if verrs := validateStruct(s.validate, req); len(verrs) > 0 {
		return nil, verrs
	}
	if _, err := s.GetPlan(ctx, schoolID, req.PlanID); err != nil {
		return nil, err
	}

	if req.ID == 0 {
		item := domain.PaymentPlanItem{
			ID:          s.genID.Generate(),
			SchoolID:    schoolID,
			PlanID:      req.PlanID,
			ConceptCode: req.ConceptCode,
			Amount:      req.Amount,
			SortOrder:   req.SortOrder,
		}
		if err := s.repo.InsertItem(ctx, s.db, &item); err != nil {
			return nil, err
		}
		return &item, nil
	}

	item, err := s.repo.FindItem(ctx, s.db, schoolID, req.ID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.PlanID != req.PlanID {
		return nil, domain.ErrPlanItemNotFound
	}
	item.ConceptCode = req.ConceptCode
	item.Amount = req.Amount
	item.SortOrder = req.SortOrder
	if err := s.repo.UpdateItem(ctx, s.db, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) DeletePlanItem(ctx context.Context, schoolID snowflake.ID, itemID snowflake.ID) error {
	if schoolID == 0 {
		return domain.ErrInvalidSchool
	}
	deleted, err := s.repo.DeleteItem(ctx, s.db, schoolID, itemID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrPlanItemNotFound
	}
	return nil
}

func (s *Service) ListPlanItems(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) ([]domain.PaymentPlanItem, error) {
	if _, err := s.GetPlan(ctx, schoolID, planID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.db, schoolID, []snowflake.ID{planID})
}

// UpsertAssignment is insert-or-skip on (school, student, plan, effective
// month). A duplicate returns the stored row together with
// ErrAssignmentExists.
func (s *Service) UpsertAssignment(ctx context.Context, schoolID snowflake.ID, req domain.UpsertAssignmentRequest) (*domain.StudentPlanAssignment, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	for i := range req.CustomMonths {
		req.CustomMonths[i] = strings.TrimSpace(req.CustomMonths[i])
	}
	verrs := validateStruct(s.validate, req)
	if len(verrs) > 0 {
		return nil, verrs
	}

	plan, err := s.GetPlan(ctx, schoolID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if req.EffectiveMonth < plan.StartMonth {
		verrs.Add("effective_month", "before_plan_start", "Must not be before the plan start_month")
	}
	if plan.EndMonth != nil && req.EffectiveMonth > *plan.EndMonth {
		verrs.Add("effective_month", "after_plan_end", "Must not be after the plan end_month")
	}
	if plan.Cadence == domain.CadenceCustom && len(req.CustomMonths) == 0 {
		verrs.Add("custom_months", "required", "Required for plans with custom cadence")
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	now := s.clock.Now()
	if req.ID != 0 {
		assignment, err := s.repo.FindAssignment(ctx, s.db, schoolID, req.ID)
		if err != nil {
			return nil, err
		}
		if assignment == nil {
			return nil, domain.ErrAssignmentNotFound
		}
		assignment.OverrideAmount = req.OverrideAmount
		assignment.CustomMonths = datatypes.JSONSlice[string](req.CustomMonths)
		assignment.UpdatedAt = now
		if err := s.repo.UpdateAssignment(ctx, s.db, assignment); err != nil {
			return nil, err
		}
		return assignment, nil
	}

	assignedAt := now
	if req.AssignedAt != nil {
		assignedAt = req.AssignedAt.UTC()
	}
	assignment := domain.StudentPlanAssignment{
		ID:             s.genID.Generate(),
		SchoolID:       schoolID,
		StudentID:      req.StudentID,
		PlanID:         req.PlanID,
		AssignedAt:     assignedAt,
		EffectiveMonth: req.EffectiveMonth,
		OverrideAmount: req.OverrideAmount,
		Status:         domain.AssignmentActive,
		CustomMonths:   datatypes.JSONSlice[string](req.CustomMonths),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.repo.InsertAssignmentIfAbsent(ctx, s.db, &assignment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindAssignmentByKey(ctx, s.db, schoolID, req.StudentID, req.PlanID, req.EffectiveMonth)
		if err != nil {
			return nil, err
		}
		return existing, domain.ErrAssignmentExists
	}

	s.audit(ctx, schoolID, "assignment.create", assignment.ID, map[string]any{
		"plan_id":         assignment.PlanID.String(),
		"effective_month": assignment.EffectiveMonth,
	})
	return &assignment, nil
}

func (s *Service) SetAssignmentStatus(ctx context.Context, schoolID snowflake.ID, assignmentID snowflake.ID, status domain.AssignmentStatus) (*domain.StudentPlanAssignment, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	switch status {
	case domain.AssignmentActive, domain.AssignmentPaused, domain.AssignmentEnded:
	default:
		return nil, domain.ErrInvalidStatus
	}

	assignment, err := s.repo.FindAssignment(ctx, s.db, schoolID, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, domain.ErrAssignmentNotFound
	}
	if assignment.Status == status {
		return assignment, nil
	}
	assignment.Status = status
	assignment.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateAssignment(ctx, s.db, assignment); err != nil {
		return nil, err
	}
	s.audit(ctx, schoolID, "assignment.status", assignment.ID, map[string]any{"status": string(status)})
	return assignment, nil
}

func (s *Service) ListAssignments(ctx context.Context, schoolID snowflake.ID, req domain.ListAssignmentsRequest) ([]domain.StudentPlanAssignment, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListAssignments(ctx, s.db, schoolID, domain.AssignmentFilter(req))
}

func (s *Service) ListBillableAssignments(ctx context.Context, schoolID snowflake.ID, from, to period.Month) ([]domain.BillableAssignment, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	if !from.Valid() || !to.Valid() || to.Before(from) {
		return nil, period.ErrInvalidMonth
	}

	assignments, plans, err := s.repo.ListBillable(ctx, s.db, schoolID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	planByID := make(map[snowflake.ID]domain.PaymentPlan, len(plans))
	planIDs := make([]snowflake.ID, 0, len(plans))
	for _, plan := range plans {
		planByID[plan.ID] = plan
		planIDs = append(planIDs, plan.ID)
	}
	items, err := s.repo.ListItems(ctx, s.db, schoolID, planIDs)
	if err != nil {
		return nil, err
	}
	itemsByPlan := make(map[snowflake.ID][]domain.PaymentPlanItem)
	for _, item := range items {
		itemsByPlan[item.PlanID] = append(itemsByPlan[item.PlanID], item)
	}

	out := make([]domain.BillableAssignment, 0, len(assignments))
	for _, assignment := range assignments {
		plan, ok := planByID[assignment.PlanID]
		if !ok {
			continue
		}
		out = append(out, domain.BillableAssignment{
			Assignment: assignment,
			Plan:       plan,
			Items:      itemsByPlan[plan.ID],
		})
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, schoolID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		SchoolID:   schoolID,
		Action:     action,
		TargetType: "catalog",
		TargetID:   targetID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
