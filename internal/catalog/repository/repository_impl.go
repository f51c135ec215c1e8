package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertConcept(ctx context.Context, db *gorm.DB, concept *domain.ChargeConcept) error {
	return db.WithContext(ctx).Create(concept).Error
}

func (r *repo) UpdateConcept(ctx context.Context, db *gorm.DB, concept *domain.ChargeConcept) error {
	return db.WithContext(ctx).Model(&domain.ChargeConcept{}).
		Where("school_id = ? AND id = ?", concept.SchoolID, concept.ID).
		Updates(map[string]any{"code": concept.Code, "name": concept.Name}).Error
}

func (r *repo) FindConcept(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.ChargeConcept, error) {
	var concept domain.ChargeConcept
	return first(db.WithContext(ctx).Where("school_id = ? AND id = ?", schoolID, id), &concept)
}

func (r *repo) ListConcepts(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) ([]domain.ChargeConcept, error) {
	var concepts []domain.ChargeConcept
	err := db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("code asc").
		Find(&concepts).Error
	return concepts, err
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *domain.PaymentPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, plan *domain.PaymentPlan) error {
	return db.WithContext(ctx).Model(&domain.PaymentPlan{}).
		Where("school_id = ? AND id = ?", plan.SchoolID, plan.ID).
		Updates(map[string]any{
			"charge_concept_id": plan.ChargeConceptID,
			"name":              plan.Name,
			"level_id":          plan.LevelID,
			"cadence":           plan.Cadence,
			"amount":            plan.Amount,
			"currency":          plan.Currency,
			"start_month":       plan.StartMonth,
			"end_month":         plan.EndMonth,
			"proration":         plan.Proration,
			"is_active":         plan.IsActive,
			"updated_at":        plan.UpdatedAt,
		}).Error
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.PaymentPlan, error) {
	var plan domain.PaymentPlan
	return first(db.WithContext(ctx).Where("school_id = ? AND id = ?", schoolID, id), &plan)
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req domain.ListPlansRequest) ([]domain.PaymentPlan, error) {
	stmt := db.WithContext(ctx).Where("school_id = ?", schoolID)
	if req.ActiveOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if req.ChargeConceptID != 0 {
		stmt = stmt.Where("charge_concept_id = ?", req.ChargeConceptID)
	}

	var plans []domain.PaymentPlan
	err := stmt.Order("created_at asc, id asc").Find(&plans).Error
	return plans, err
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *domain.PaymentPlanItem) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *domain.PaymentPlanItem) error {
	return db.WithContext(ctx).Model(&domain.PaymentPlanItem{}).
		Where("school_id = ? AND id = ?", item.SchoolID, item.ID).
		Updates(map[string]any{
			"concept_code": item.ConceptCode,
			"amount":       item.Amount,
			"sort_order":   item.SortOrder,
		}).Error
}

func (r *repo) FindItem(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.PaymentPlanItem, error) {
	var item domain.PaymentPlanItem
	return first(db.WithContext(ctx).Where("school_id = ? AND id = ?", schoolID, id), &item)
}

func (r *repo) DeleteItem(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Where("school_id = ? AND id = ?", schoolID, id).
		Delete(&domain.PaymentPlanItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, planIDs []snowflake.ID) ([]domain.PaymentPlanItem, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}
	var items []domain.PaymentPlanItem
	err := db.WithContext(ctx).
		Where("school_id = ? AND plan_id IN ?", schoolID, planIDs).
		Order("plan_id asc, sort_order asc, id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) InsertAssignmentIfAbsent(ctx context.Context, db *gorm.DB, assignment *domain.StudentPlanAssignment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "school_id"},
				{Name: "student_id"},
				{Name: "plan_id"},
				{Name: "effective_month"},
			},
			DoNothing: true,
		}).
		Create(assignment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *domain.StudentPlanAssignment) error {
	return db.WithContext(ctx).Model(&domain.StudentPlanAssignment{}).
		Where("school_id = ? AND id = ?", assignment.SchoolID, assignment.ID).
		Updates(map[string]any{
			"override_amount": assignment.OverrideAmount,
			"custom_months":   assignment.CustomMonths,
			"status":          assignment.Status,
			"updated_at":      assignment.UpdatedAt,
		}).Error
}

func (r *repo) FindAssignment(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.StudentPlanAssignment, error) {
	var assignment domain.StudentPlanAssignment
	return first(db.WithContext(ctx).Where("school_id = ? AND id = ?", schoolID, id), &assignment)
}

func (r *repo) FindAssignmentByKey(ctx context.Context, db *gorm.DB, schoolID, studentID, planID snowflake.ID, effectiveMonth string) (*domain.StudentPlanAssignment, error) {
	var assignment domain.StudentPlanAssignment
	return first(db.WithContext(ctx).Where(
		"school_id = ? AND student_id = ? AND plan_id = ? AND effective_month = ?",
		schoolID, studentID, planID, effectiveMonth,
	), &assignment)
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, filter domain.AssignmentFilter) ([]domain.StudentPlanAssignment, error) {
	stmt := db.WithContext(ctx).Where("school_id = ?", schoolID)
	if filter.StudentID != 0 {
		stmt = stmt.Where("student_id = ?", filter.StudentID)
	}
	if filter.PlanID != 0 {
		stmt = stmt.Where("plan_id = ?", filter.PlanID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	var assignments []domain.StudentPlanAssignment
	err := stmt.Order("effective_month asc, id asc").Find(&assignments).Error
	return assignments, err
}

type assignmentSpanRow struct {
	Count    int64
	Earliest *string
	Latest   *string
}

func (r *repo) AssignmentSpan(ctx context.Context, db *gorm.DB, schoolID, planID snowflake.ID) (domain.AssignmentSpan, error) {
	var row assignmentSpanRow
	err := db.WithContext(ctx).Model(&domain.StudentPlanAssignment{}).
		Select("COUNT(*) AS count, MIN(effective_month) AS earliest, MAX(effective_month) AS latest").
		Where("school_id = ? AND plan_id = ?", schoolID, planID).
		Scan(&row).Error
	if err != nil {
		return domain.AssignmentSpan{}, err
	}
	span := domain.AssignmentSpan{Count: row.Count}
	if row.Earliest != nil {
		span.EarliestMonth = *row.Earliest
	}
	if row.Latest != nil {
		span.LatestMonth = *row.Latest
	}
	return span, nil
}

// ListBillable returns active assignments of active plans whose effective
// range overlaps [from, to]. Months are stored as YYYY-MM so string
// comparison orders them chronologically.
func (r *repo) ListBillable(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, from, to string) ([]domain.StudentPlanAssignment, []domain.PaymentPlan, error) {
	var plans []domain.PaymentPlan
	err := db.WithContext(ctx).
		Where("school_id = ? AND is_active = ?", schoolID, true).
		Where("start_month <= ?", to).
		Where("end_month IS NULL OR end_month >= ?", from).
		Find(&plans).Error
	if err != nil {
		return nil, nil, err
	}
	if len(plans) == 0 {
		return nil, nil, nil
	}

	planIDs := make([]snowflake.ID, 0, len(plans))
	for _, plan := range plans {
		planIDs = append(planIDs, plan.ID)
	}

	var assignments []domain.StudentPlanAssignment
	err = db.WithContext(ctx).
		Where("school_id = ? AND status = ? AND plan_id IN ?", schoolID, domain.AssignmentActive, planIDs).
		Where("effective_month <= ?", to).
		Order("student_id asc, effective_month asc, id asc").
		Find(&assignments).Error
	if err != nil {
		return nil, nil, err
	}
	return assignments, plans, nil
}

func first[T any](stmt *gorm.DB, dest *T) (*T, error) {
	err := stmt.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}
