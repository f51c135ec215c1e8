package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent reports false when an invoice for the same student, concept
// and period already exists. The existing row is never touched.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "school_id"},
				{Name: "student_id"},
				{Name: "charge_concept_id"},
				{Name: "period_month"},
				{Name: "period_year"},
			},
			DoNothing: true,
		}).
		Create(invoice)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

// NextSequence must run inside the transaction that uses the number; the
// update holds the sequence row until commit.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) (int64, error) {
	tx := db.WithContext(ctx)
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "school_id"}},
		DoNothing: true,
	}).Create(&domain.InvoiceSequence{SchoolID: schoolID}).Error; err != nil {
		return 0, err
	}

	if err := tx.Model(&domain.InvoiceSequence{}).
		Where("school_id = ?", schoolID).
		Update("last_value", gorm.Expr("last_value + 1")).Error; err != nil {
		return 0, err
	}

	var seq domain.InvoiceSequence
	if err := tx.Where("school_id = ?", schoolID).Take(&seq).Error; err != nil {
		return 0, err
	}
	return seq.LastValue, nil
}

func (r *repo) SetNumber(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID, number string) error {
	return db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("school_id = ? AND id = ?", schoolID, invoiceID).
		Update("invoice_number", number).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("school_id = ? AND id = ?", schoolID, invoiceID).
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	return r.FindByID(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}), schoolID, invoiceID)
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, schoolID, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("school_id = ? AND invoice_id = ?", schoolID, invoiceID).
		Order("sort_order asc").
		Order("id asc").
		Find(&items).Error
	return items, err
}

// List pages newest first over (created_at, id). One extra row is fetched so
// the caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("school_id = ?", filter.SchoolID)
	if filter.StudentID != 0 {
		stmt = stmt.Where("student_id = ?", filter.StudentID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID,
		)
	}

	var invoices []domain.Invoice
	err := stmt.
		Order("created_at desc").
		Order("id desc").
		Limit(filter.Limit + 1).
		Find(&invoices).Error
	return invoices, err
}

// ListCollectableForUpdate locks the open and partial invoices of a student,
// oldest due date first.
func (r *repo) ListCollectableForUpdate(ctx context.Context, db *gorm.DB, schoolID, studentID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("school_id = ? AND student_id = ?", schoolID, studentID).
		Where("status IN ?", []domain.InvoiceStatus{domain.InvoiceStatusOpen, domain.InvoiceStatusPartial}).
		Order("due_date asc").
		Order("id asc").
		Find(&invoices).Error
	return invoices, err
}

func (r *repo) ListLateFeeCandidateIDs(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, asOf time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("school_id = ?", schoolID).
		Where("status IN ?", []domain.InvoiceStatus{domain.InvoiceStatusOpen, domain.InvoiceStatusPartial}).
		Where("(due_date < ? OR late_fee_accrued > 0)", asOf).
		Order("due_date asc").
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) UpdateAmounts(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("school_id = ? AND id = ?", invoice.SchoolID, invoice.ID).
		Updates(map[string]any{
			"late_fee_accrued": invoice.LateFeeAccrued,
			"paid_total":       invoice.PaidTotal,
			"total":            invoice.Total,
			"balance":          invoice.Balance,
			"status":           invoice.Status,
			"voided_at":        invoice.VoidedAt,
			"updated_at":       invoice.UpdatedAt,
		}).Error
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.InvoiceGenerationRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, limit int) ([]domain.InvoiceGenerationRun, error) {
	var runs []domain.InvoiceGenerationRun
	err := db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("run_at desc").
		Order("id desc").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
