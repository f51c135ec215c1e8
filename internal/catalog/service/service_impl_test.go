package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/internal/catalog/repository"
	"github.com/smallbiznis/schoolledger/internal/clock"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockTenantSvc struct {
	mock.Mock
	tenantdomain.Service
}

func (m *mockTenantSvc) Settings(ctx context.Context, schoolID snowflake.ID) (tenantdomain.Settings, error) {
	args := m.Called(ctx, schoolID)
	return args.Get(0).(tenantdomain.Settings), args.Error(1)
}

const schoolID = snowflake.ID(100)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.ChargeConcept{},
		&domain.PaymentPlan{},
		&domain.PaymentPlanItem{},
		&domain.StudentPlanAssignment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tenantSvc := &mockTenantSvc{}
	tenantSvc.On("Settings", mock.Anything, mock.Anything).Return(tenantdomain.Settings{Currency: "MXN"}, nil)

	return New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2024, time.August, 15, 9, 0, 0, 0, time.UTC)),
		Repo:      repository.Provide(),
		TenantSvc: tenantSvc,
	})
}

func seedPlan(t *testing.T, svc domain.Service, cadence domain.Cadence) *domain.PaymentPlan {
	t.Helper()
	ctx := context.Background()
	concept, err := svc.UpsertChargeConcept(ctx, schoolID, domain.UpsertChargeConceptRequest{Code: "tuition", Name: "Tuition"})
	require.NoError(t, err)

	plan, err := svc.UpsertPlan(ctx, schoolID, domain.UpsertPlanRequest{
		ChargeConceptID: concept.ID,
		Name:            "Primary tuition",
		Cadence:         cadence,
		Amount:          50000,
		StartMonth:      "2024-09",
	})
	require.NoError(t, err)
	return plan
}

func TestUpsertPlan_DefaultsCurrencyAndProration(t *testing.T) {
	svc := newTestService(t)
	plan := seedPlan(t, svc, domain.CadenceMonthly)

	assert.Equal(t, "MXN", plan.Currency)
	assert.Equal(t, domain.ProrationNone, plan.Proration)
	assert.True(t, plan.IsActive)
}

func TestUpsertPlan_ValidationErrors(t *testing.T) {
	svc := newTestService(t)
	end := "2024-01"

	_, err := svc.UpsertPlan(context.Background(), schoolID, domain.UpsertPlanRequest{
		ChargeConceptID: 999,
		Name:            "Bad",
		Cadence:         "weekly",
		Amount:          0,
		StartMonth:      "2024-13",
		EndMonth:        &end,
	})

	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]string{}
	for _, v := range verrs {
		fields[v.Field] = v.Code
	}
	assert.Equal(t, "oneof", fields["cadence"])
	assert.Equal(t, "gt", fields["amount"])
	assert.Equal(t, "month", fields["start_month"])
	assert.Equal(t, "not_found", fields["charge_concept_id"])
}

func TestUpsertPlan_EndBeforeStart(t *testing.T) {
	svc := newTestService(t)
	concept, err := svc.UpsertChargeConcept(context.Background(), schoolID, domain.UpsertChargeConceptRequest{Code: "x", Name: "X"})
	require.NoError(t, err)
	end := "2024-08"

	_, err = svc.UpsertPlan(context.Background(), schoolID, domain.UpsertPlanRequest{
		ChargeConceptID: concept.ID, Name: "P", Cadence: domain.CadenceMonthly, Amount: 1, StartMonth: "2024-09", EndMonth: &end,
	})
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "before_start", verrs[0].Code)
}

func TestUpsertPlan_PlanInUseRejectsKeyChanges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	plan := seedPlan(t, svc, domain.CadenceMonthly)
	other, err := svc.UpsertChargeConcept(ctx, schoolID, domain.UpsertChargeConceptRequest{Code: "fees", Name: "Fees"})
	require.NoError(t, err)

	update := func(mutate func(*domain.UpsertPlanRequest)) (*domain.PaymentPlan, error) {
		req := domain.UpsertPlanRequest{
			ID:              plan.ID,
			ChargeConceptID: plan.ChargeConceptID,
			Name:            plan.Name,
			Cadence:         plan.Cadence,
			Amount:          plan.Amount,
			StartMonth:      plan.StartMonth,
		}
		mutate(&req)
		return svc.UpsertPlan(ctx, schoolID, req)
	}

	// nothing references the plan yet
	moved, err := update(func(r *domain.UpsertPlanRequest) { r.StartMonth = "2024-10" })
	require.NoError(t, err)
	assert.Equal(t, "2024-10", moved.StartMonth)
	_, err = update(func(r *domain.UpsertPlanRequest) { r.StartMonth = "2024-09" })
	require.NoError(t, err)

	_, err = svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 7, PlanID: plan.ID, EffectiveMonth: "2024-09"})
	require.NoError(t, err)
	_, err = svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 8, PlanID: plan.ID, EffectiveMonth: "2024-11"})
	require.NoError(t, err)

	end := "2024-10"
	_, err = update(func(r *domain.UpsertPlanRequest) {
		r.ChargeConceptID = other.ID
		r.Cadence = domain.CadenceOnce
		r.StartMonth = "2024-10"
		r.EndMonth = &end
	})
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	codes := map[string]string{}
	for _, v := range verrs {
		codes[v.Field] = v.Code
	}
	assert.Equal(t, map[string]string{
		"charge_concept_id": "plan_in_use",
		"cadence":           "plan_in_use",
		"start_month":       "after_assignment",
		"end_month":         "before_assignment",
	}, codes)

	stored, err := svc.GetPlan(ctx, schoolID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ChargeConceptID, stored.ChargeConceptID)
	assert.Equal(t, "2024-09", stored.StartMonth)

	repriced, err := update(func(r *domain.UpsertPlanRequest) {
		r.Amount = 55000
		r.StartMonth = "2024-08"
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55000), repriced.Amount)
	assert.Equal(t, "2024-08", repriced.StartMonth)
}

func TestUpsertChargeConcept_DuplicateCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.UpsertChargeConcept(ctx, schoolID, domain.UpsertChargeConceptRequest{Code: "ENR", Name: "Enrollment"})
	require.NoError(t, err)
	_, err = svc.UpsertChargeConcept(ctx, schoolID, domain.UpsertChargeConceptRequest{Code: "enr", Name: "Again"})
	assert.ErrorIs(t, err, domain.ErrConceptCodeTaken)

	_, err = svc.UpsertChargeConcept(ctx, schoolID+1, domain.UpsertChargeConceptRequest{Code: "ENR", Name: "Other school"})
	assert.NoError(t, err)
}

func TestUpsertAssignment_InsertOrSkip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	plan := seedPlan(t, svc, domain.CadenceMonthly)

	req := domain.UpsertAssignmentRequest{StudentID: 7, PlanID: plan.ID, EffectiveMonth: "2024-09"}
	first, err := svc.UpsertAssignment(ctx, schoolID, req)
	require.NoError(t, err)

	second, err := svc.UpsertAssignment(ctx, schoolID, req)
	assert.ErrorIs(t, err, domain.ErrAssignmentExists)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	all, err := svc.ListAssignments(ctx, schoolID, domain.ListAssignmentsRequest{StudentID: 7})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertAssignment_DomainChecks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	monthly := seedPlan(t, svc, domain.CadenceMonthly)

	_, err := svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 1, PlanID: monthly.ID, EffectiveMonth: "2024-08"})
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "before_plan_start", verrs[0].Code)

	zero := int64(0)
	_, err = svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 1, PlanID: monthly.ID, EffectiveMonth: "2024-09", OverrideAmount: &zero})
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "override_amount", verrs[0].Field)

	_, err = svc.UpsertAssignment(ctx, schoolID+1, domain.UpsertAssignmentRequest{StudentID: 1, PlanID: monthly.ID, EffectiveMonth: "2024-09"})
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestUpsertAssignment_CustomCadenceRequiresMonths(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	custom := seedPlan(t, svc, domain.CadenceCustom)

	_, err := svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 1, PlanID: custom.ID, EffectiveMonth: "2024-09"})
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "custom_months", verrs[0].Field)

	_, err = svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{
		StudentID: 1, PlanID: custom.ID, EffectiveMonth: "2024-09", CustomMonths: []string{"2024-09", "2025/01"},
	})
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "custom_months[1]", verrs[0].Field)

	a, err := svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{
		StudentID: 1, PlanID: custom.ID, EffectiveMonth: "2024-09", CustomMonths: []string{"2024-09", "2025-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-09", "2025-01"}, []string(a.CustomMonths))
}

func TestListBillableAssignments_SkipsInactive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	plan := seedPlan(t, svc, domain.CadenceMonthly)

	_, err := svc.UpsertPlanItem(ctx, schoolID, domain.UpsertPlanItemRequest{PlanID: plan.ID, ConceptCode: "col", Amount: 40000})
	require.NoError(t, err)
	_, err = svc.UpsertPlanItem(ctx, schoolID, domain.UpsertPlanItemRequest{PlanID: plan.ID, ConceptCode: "lab", Amount: 10000, SortOrder: 1})
	require.NoError(t, err)

	active, err := svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 1, PlanID: plan.ID, EffectiveMonth: "2024-09"})
	require.NoError(t, err)
	paused, err := svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 2, PlanID: plan.ID, EffectiveMonth: "2024-09"})
	require.NoError(t, err)
	_, err = svc.SetAssignmentStatus(ctx, schoolID, paused.ID, domain.AssignmentPaused)
	require.NoError(t, err)
	_, err = svc.UpsertAssignment(ctx, schoolID, domain.UpsertAssignmentRequest{StudentID: 3, PlanID: plan.ID, EffectiveMonth: "2025-03"})
	require.NoError(t, err)

	from, _ := period.Parse("2024-09")
	to, _ := period.Parse("2024-11")
	billable, err := svc.ListBillableAssignments(ctx, schoolID, from, to)
	require.NoError(t, err)
	require.Len(t, billable, 1)
	assert.Equal(t, active.ID, billable[0].Assignment.ID)
	require.Len(t, billable[0].Items, 2)
	assert.Equal(t, "COL", billable[0].Items[0].ConceptCode)

	_, err = svc.DeactivatePlan(ctx, schoolID, plan.ID)
	require.NoError(t, err)
	billable, err = svc.ListBillableAssignments(ctx, schoolID, from, to)
	require.NoError(t, err)
	assert.Empty(t, billable)
}
