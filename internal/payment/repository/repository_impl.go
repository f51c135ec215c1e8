package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertMethod(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Create(method).Error
}

func (r *repo) UpdateMethod(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Model(&domain.PaymentMethod{}).
		Where("school_id = ? AND id = ?", method.SchoolID, method.ID).
		Updates(map[string]any{
			"code":      method.Code,
			"name":      method.Name,
			"is_active": method.IsActive,
		}).Error
}

func (r *repo) FindMethod(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("school_id = ? AND id = ?", schoolID, id).
		Take(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repo) ListMethods(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, activeOnly bool) ([]domain.PaymentMethod, error) {
	stmt := db.WithContext(ctx).Where("school_id = ?", schoolID)
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	var methods []domain.PaymentMethod
	err := stmt.Order("code asc").Find(&methods).Error
	return methods, err
}

func (r *repo) ClaimIdempotencyKey(ctx context.Context, db *gorm.DB, request *domain.PaymentRequest) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "school_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(request)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPayments(ctx context.Context, db *gorm.DB, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&payments).Error
}

func (r *repo) ListByIdempotencyKey(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, key string) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("school_id = ? AND idempotency_key = ?", schoolID, key).
		Order("created_at asc").
		Order("id asc").
		Find(&payments).Error
	return payments, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req domain.ListPaymentsRequest) ([]domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{}).Where("payments.school_id = ?", schoolID)
	if req.InvoiceID != 0 {
		stmt = stmt.Where("payments.invoice_id = ?", req.InvoiceID)
	}
	if req.SessionID != 0 {
		stmt = stmt.Where("payments.session_id = ?", req.SessionID)
	}
	if req.StudentID != 0 {
		stmt = stmt.
			Joins("JOIN invoices ON invoices.id = payments.invoice_id AND invoices.school_id = payments.school_id").
			Where("invoices.student_id = ?", req.StudentID)
	}

	var payments []domain.Payment
	err := stmt.
		Order("payments.paid_at desc").
		Order("payments.id desc").
		Find(&payments).Error
	return payments, err
}

func (r *repo) TotalsBySession(ctx context.Context, db *gorm.DB, schoolID, sessionID snowflake.ID) ([]domain.MethodTotal, error) {
	var totals []domain.MethodTotal
	err := db.WithContext(ctx).Model(&domain.Payment{}).
		Select("payment_method_id, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("school_id = ? AND session_id = ?", schoolID, sessionID).
		Group("payment_method_id").
		Order("payment_method_id asc").
		Scan(&totals).Error
	return totals, err
}
