// Package domain holds the payment plan catalog: charge concepts, plans,
// plan items and the assignment of plans to students.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Cadence string

const (
	CadenceMonthly Cadence = "monthly"
	CadenceOnce    Cadence = "once"
	CadenceCustom  Cadence = "custom"
)

type Proration string

const (
	ProrationNone            Proration = "none"
	ProrationProRataDays     Proration = "pro-rata-days"
	ProrationFirstPeriodFull Proration = "first-period-full"
)

type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "active"
	AssignmentPaused AssignmentStatus = "paused"
	AssignmentEnded  AssignmentStatus = "ended"
)

// ChargeConcept groups invoices of the same kind (tuition, enrollment, ...).
type ChargeConcept struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID  snowflake.ID `gorm:"not null;uniqueIndex:ux_charge_concepts_code,priority:1" json:"school_id"`
	Code      string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_charge_concepts_code,priority:2" json:"code"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (ChargeConcept) TableName() string { return "charge_concepts" }

// PaymentPlan is never deleted; deactivation stops future generation only.
type PaymentPlan struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID  `gorm:"not null;index" json:"school_id"`
	ChargeConceptID snowflake.ID  `gorm:"not null" json:"charge_concept_id"`
	Name            string        `gorm:"type:text;not null" json:"name"`
	LevelID         *snowflake.ID `json:"level_id,omitempty"`
	Cadence         Cadence       `gorm:"type:varchar(16);not null" json:"cadence"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Currency        string        `gorm:"type:varchar(3);not null" json:"currency"`
	StartMonth      string        `gorm:"type:varchar(7);not null" json:"start_month"`
	EndMonth        *string       `gorm:"type:varchar(7)" json:"end_month,omitempty"`
	Proration       Proration     `gorm:"type:varchar(32);not null" json:"proration"`
	IsActive        bool          `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (PaymentPlan) TableName() string { return "payment_plans" }

type PaymentPlanItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID    snowflake.ID `gorm:"not null;index" json:"school_id"`
	PlanID      snowflake.ID `gorm:"not null;index" json:"plan_id"`
	ConceptCode string       `gorm:"type:varchar(64);not null" json:"concept_code"`
	Amount      int64        `gorm:"not null" json:"amount"`
	SortOrder   int          `gorm:"not null" json:"sort_order"`
}

func (PaymentPlanItem) TableName() string { return "payment_plan_items" }

type StudentPlanAssignment struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	SchoolID       snowflake.ID                `gorm:"not null;uniqueIndex:ux_assignments_student_plan_month,priority:1" json:"school_id"`
	StudentID      snowflake.ID                `gorm:"not null;uniqueIndex:ux_assignments_student_plan_month,priority:2" json:"student_id"`
	PlanID         snowflake.ID                `gorm:"not null;uniqueIndex:ux_assignments_student_plan_month,priority:3" json:"plan_id"`
	AssignedAt     time.Time                   `gorm:"not null" json:"assigned_at"`
	EffectiveMonth string                      `gorm:"type:varchar(7);not null;uniqueIndex:ux_assignments_student_plan_month,priority:4" json:"effective_month"`
	OverrideAmount *int64                      `json:"override_amount,omitempty"`
	Status         AssignmentStatus            `gorm:"type:varchar(16);not null" json:"status"`
	CustomMonths   datatypes.JSONSlice[string] `json:"custom_months,omitempty"`
	CreatedAt      time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null" json:"updated_at"`
}

func (StudentPlanAssignment) TableName() string { return "student_plan_assignments" }

// AssignmentSpan summarises the assignments of one plan, whatever their
// status. The months are empty when Count is zero.
type AssignmentSpan struct {
	Count         int64
	EarliestMonth string
	LatestMonth   string
}

// BillableAssignment is an active assignment joined with its active plan.
type BillableAssignment struct {
	Assignment StudentPlanAssignment
	Plan       PaymentPlan
	Items      []PaymentPlanItem
}
