package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, school *domain.School) error {
	return db.WithContext(ctx).Create(school).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.School, error) {
	var school domain.School
	err := db.WithContext(ctx).Where("id = ?", id).Take(&school).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &school, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, school *domain.School) error {
	return db.WithContext(ctx).Model(&domain.School{}).
		Where("id = ?", school.ID).
		Updates(map[string]any{
			"name":              school.Name,
			"currency":          school.Currency,
			"timezone":          school.Timezone,
			"late_fee_per_diem": school.LateFeePerDiem,
			"invoice_due_day":   school.InvoiceDueDay,
			"updated_at":        school.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.School, error) {
	var schools []domain.School
	if err := db.WithContext(ctx).Order("id asc").Find(&schools).Error; err != nil {
		return nil, err
	}
	return schools, nil
}
