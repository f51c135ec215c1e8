package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateSchoolRequest struct {
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	Timezone       string `json:"timezone"`
	LateFeePerDiem *int64 `json:"late_fee_per_diem"`
	InvoiceDueDay  *int   `json:"invoice_due_day"`
}

// UpdateSettingsRequest changes only the fields that are set.
type UpdateSettingsRequest struct {
	Name           *string `json:"name"`
	Currency       *string `json:"currency"`
	Timezone       *string `json:"timezone"`
	LateFeePerDiem *int64  `json:"late_fee_per_diem"`
	InvoiceDueDay  *int    `json:"invoice_due_day"`
}

type Service interface {
	Create(ctx context.Context, req CreateSchoolRequest) (*School, error)
	Get(ctx context.Context, schoolID snowflake.ID) (*School, error)
	UpdateSettings(ctx context.Context, schoolID snowflake.ID, req UpdateSettingsRequest) (*School, error)
	List(ctx context.Context) ([]School, error)
	Settings(ctx context.Context, schoolID snowflake.ID) (Settings, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, school *School) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*School, error)
	Update(ctx context.Context, db *gorm.DB, school *School) error
	List(ctx context.Context, db *gorm.DB) ([]School, error)
}

var (
	ErrSchoolNotFound  = errors.New("school_not_found")
	ErrInvalidSchool   = errors.New("invalid_school")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidTimezone = errors.New("invalid_timezone")
	ErrInvalidDueDay   = errors.New("invalid_due_day")
	ErrInvalidPerDiem  = errors.New("invalid_late_fee_per_diem")
)
