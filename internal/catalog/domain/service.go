package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"gorm.io/gorm"
)

type UpsertChargeConceptRequest struct {
	ID   snowflake.ID `json:"id"`
	Code string       `json:"code" validate:"required,max=64"`
	Name string       `json:"name" validate:"required,max=200"`
}

// UpsertPlanRequest creates a plan when ID is zero, otherwise updates it.
type UpsertPlanRequest struct {
	ID              snowflake.ID  `json:"id"`
	ChargeConceptID snowflake.ID  `json:"charge_concept_id" validate:"required"`
	Name            string        `json:"name" validate:"required,max=200"`
	LevelID         *snowflake.ID `json:"level_id"`
	Cadence         Cadence       `json:"cadence" validate:"required,oneof=monthly once custom"`
	Amount          int64         `json:"amount" validate:"gt=0"`
	Currency        string        `json:"currency" validate:"omitempty,len=3,alpha"`
	StartMonth      string        `json:"start_month" validate:"required,month"`
	EndMonth        *string       `json:"end_month" validate:"omitempty,month"`
	Proration       Proration     `json:"proration" validate:"omitempty,oneof=none pro-rata-days first-period-full"`
}

type ListPlansRequest struct {
	ActiveOnly      bool
	ChargeConceptID snowflake.ID
}

type UpsertPlanItemRequest struct {
	ID          snowflake.ID `json:"id"`
	PlanID      snowflake.ID `json:"plan_id" validate:"required"`
	ConceptCode string       `json:"concept_code" validate:"required,max=64"`
	Amount      int64        `json:"amount" validate:"gt=0"`
	SortOrder   int          `json:"sort_order" validate:"gte=0"`
}

// UpsertAssignmentRequest creates an assignment when ID is zero. Updates may
// only change the override amount and custom months.
type UpsertAssignmentRequest struct {
	ID             snowflake.ID `json:"id"`
	StudentID      snowflake.ID `json:"student_id" validate:"required"`
	PlanID         snowflake.ID `json:"plan_id" validate:"required"`
	AssignedAt     *time.Time   `json:"assigned_at"`
	EffectiveMonth string       `json:"effective_month" validate:"required,month"`
	OverrideAmount *int64       `json:"override_amount" validate:"omitempty,gt=0"`
	CustomMonths   []string     `json:"custom_months" validate:"omitempty,dive,month"`
}

type ListAssignmentsRequest struct {
	StudentID snowflake.ID
	PlanID    snowflake.ID
	Status    AssignmentStatus
}

type Service interface {
	UpsertChargeConcept(ctx context.Context, schoolID snowflake.ID, req UpsertChargeConceptRequest) (*ChargeConcept, error)
	ListChargeConcepts(ctx context.Context, schoolID snowflake.ID) ([]ChargeConcept, error)

	UpsertPlan(ctx context.Context, schoolID snowflake.ID, req UpsertPlanRequest) (*PaymentPlan, error)
	DeactivatePlan(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) (*PaymentPlan, error)
	GetPlan(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) (*PaymentPlan, error)
	ListPlans(ctx context.Context, schoolID snowflake.ID, req ListPlansRequest) ([]PaymentPlan, error)

	UpsertPlanItem(ctx context.Context, schoolID snowflake.ID, req UpsertPlanItemRequest) (*PaymentPlanItem, error)
	DeletePlanItem(ctx context.Context, schoolID snowflake.ID, itemID snowflake.ID) error
	ListPlanItems(ctx context.Context, schoolID snowflake.ID, planID snowflake.ID) ([]PaymentPlanItem, error)

	UpsertAssignment(ctx context.Context, schoolID snowflake.ID, req UpsertAssignmentRequest) (*StudentPlanAssignment, error)
	SetAssignmentStatus(ctx context.Context, schoolID snowflake.ID, assignmentID snowflake.ID, status AssignmentStatus) (*StudentPlanAssignment, error)
	ListAssignments(ctx context.Context, schoolID snowflake.ID, req ListAssignmentsRequest) ([]StudentPlanAssignment, error)

	ListBillableAssignments(ctx context.Context, schoolID snowflake.ID, from, to period.Month) ([]BillableAssignment, error)
}

type AssignmentFilter struct {
	StudentID snowflake.ID
	PlanID    snowflake.ID
	Status    AssignmentStatus
}

type Repository interface {
	InsertConcept(ctx context.Context, db *gorm.DB, concept *ChargeConcept) error
	UpdateConcept(ctx context.Context, db *gorm.DB, concept *ChargeConcept) error
	FindConcept(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*ChargeConcept, error)
	ListConcepts(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) ([]ChargeConcept, error)

	InsertPlan(ctx context.Context, db *gorm.DB, plan *PaymentPlan) error
	UpdatePlan(ctx context.Context, db *gorm.DB, plan *PaymentPlan) error
	FindPlan(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*PaymentPlan, error)
	ListPlans(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req ListPlansRequest) ([]PaymentPlan, error)

	InsertItem(ctx context.Context, db *gorm.DB, item *PaymentPlanItem) error
	UpdateItem(ctx context.Context, db *gorm.DB, item *PaymentPlanItem) error
	FindItem(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*PaymentPlanItem, error)
	DeleteItem(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (bool, error)
	ListItems(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, planIDs []snowflake.ID) ([]PaymentPlanItem, error)

	// InsertAssignmentIfAbsent reports false when the unique key already exists.
	InsertAssignmentIfAbsent(ctx context.Context, db *gorm.DB, assignment *StudentPlanAssignment) (bool, error)
	UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *StudentPlanAssignment) error
	FindAssignment(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*StudentPlanAssignment, error)
	FindAssignmentByKey(ctx context.Context, db *gorm.DB, schoolID, studentID, planID snowflake.ID, effectiveMonth string) (*StudentPlanAssignment, error)
	ListAssignments(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, filter AssignmentFilter) ([]StudentPlanAssignment, error)
	AssignmentSpan(ctx context.Context, db *gorm.DB, schoolID, planID snowflake.ID) (AssignmentSpan, error)
	ListBillable(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, from, to string) ([]StudentPlanAssignment, []PaymentPlan, error)
}
