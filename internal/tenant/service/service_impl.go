package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/schoolledger/internal/cache"
	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const schoolCacheTTL = time.Minute

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Ledger *config.LedgerConfigHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   domain.Repository
	ledger *config.LedgerConfigHolder
	cache  cache.Cache[snowflake.ID, domain.School]
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("tenant.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		ledger: p.Ledger,
		cache:  cache.NewTTLCache[snowflake.ID, domain.School](),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSchoolRequest) (*domain.School, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.ledger.Get().DefaultCurrency
	}
	if !validCurrency(currency) {
		return nil, domain.ErrInvalidCurrency
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, domain.ErrInvalidTimezone
	}
	if err := validateOverrides(req.LateFeePerDiem, req.InvoiceDueDay); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	school := domain.School{
		ID:             s.genID.Generate(),
		Name:           name,
		Slug:           slug.Make(name),
		Currency:       currency,
		Timezone:       timezone,
		LateFeePerDiem: req.LateFeePerDiem,
		InvoiceDueDay:  req.InvoiceDueDay,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.repo.Insert(ctx, s.db, &school)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// Same display name as an existing school; disambiguate the slug.
		school.Slug = slug.Make(name + " " + school.ID.String())
		err = s.repo.Insert(ctx, s.db, &school)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("school created", zap.String("school_id", school.ID.String()), zap.String("slug", school.Slug))
	return &school, nil
}

func (s *Service) Get(ctx context.Context, schoolID snowflake.ID) (*domain.School, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	if cached, ok := s.cache.Get(schoolID); ok {
		return &cached, nil
	}

	school, err := s.repo.FindByID(ctx, s.db, schoolID)
	if err != nil {
		return nil, err
	}
	if school == nil {
		return nil, domain.ErrSchoolNotFound
	}
	s.cache.Set(schoolID, *school, schoolCacheTTL)
	return school, nil
}

func (s *Service) UpdateSettings(ctx context.Context, schoolID snowflake.ID, req domain.UpdateSettingsRequest) (*domain.School, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	school, err := s.repo.FindByID(ctx, s.db, schoolID)
	if err != nil {
		return nil, err
	}
	if school == nil {
		return nil, domain.ErrSchoolNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		school.Name = name
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if !validCurrency(currency) {
			return nil, domain.ErrInvalidCurrency
		}
		school.Currency = currency
	}
	if req.Timezone != nil {
		timezone := strings.TrimSpace(*req.Timezone)
		if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
			return nil, domain.ErrInvalidTimezone
		}
		school.Timezone = timezone
	}
	if err := validateOverrides(req.LateFeePerDiem, req.InvoiceDueDay); err != nil {
		return nil, err
	}
	if req.LateFeePerDiem != nil {
		school.LateFeePerDiem = req.LateFeePerDiem
	}
	if req.InvoiceDueDay != nil {
		school.InvoiceDueDay = req.InvoiceDueDay
	}
	school.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, s.db, school); err != nil {
		return nil, err
	}
	s.cache.Delete(schoolID)
	return school, nil
}

func (s *Service) List(ctx context.Context) ([]domain.School, error) {
	return s.repo.List(ctx, s.db)
}

// Settings resolves the school's billing parameters, falling back to the
// ledger defaults for anything the school does not override.
func (s *Service) Settings(ctx context.Context, schoolID snowflake.ID) (domain.Settings, error) {
	school, err := s.Get(ctx, schoolID)
	if err != nil {
		return domain.Settings{}, err
	}

	defaults := s.ledger.Get()
	settings := domain.Settings{
		SchoolID:       school.ID,
		Currency:       school.Currency,
		Timezone:       school.Timezone,
		LateFeePerDiem: defaults.DefaultLateFeePerDiem,
		InvoiceDueDay:  defaults.DefaultDueDay,
	}
	if settings.Currency == "" {
		settings.Currency = defaults.DefaultCurrency
	}
	if school.LateFeePerDiem != nil {
		settings.LateFeePerDiem = *school.LateFeePerDiem
	}
	if school.InvoiceDueDay != nil {
		settings.InvoiceDueDay = *school.InvoiceDueDay
	}
	return settings, nil
}

func validateOverrides(perDiem *int64, dueDay *int) error {
	if perDiem != nil && *perDiem < 0 {
		return domain.ErrInvalidPerDiem
	}
	if dueDay != nil && (*dueDay < 1 || *dueDay > 28) {
		return domain.ErrInvalidDueDay
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
