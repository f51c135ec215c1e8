package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRegister(ctx context.Context, db *gorm.DB, register *domain.CashRegister) error {
	return db.WithContext(ctx).Create(register).Error
}

func (r *repo) UpdateRegister(ctx context.Context, db *gorm.DB, register *domain.CashRegister) error {
	return db.WithContext(ctx).Model(&domain.CashRegister{}).
		Where("school_id = ? AND id = ?", register.SchoolID, register.ID).
		Updates(map[string]any{
			"name":      register.Name,
			"location":  register.Location,
			"is_active": register.IsActive,
		}).Error
}

func (r *repo) FindRegister(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.CashRegister, error) {
	var register domain.CashRegister
	err := db.WithContext(ctx).
		Where("school_id = ? AND id = ?", schoolID, id).
		Take(&register).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &register, nil
}

func (r *repo) ListRegisters(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) ([]domain.CashRegister, error) {
	var registers []domain.CashRegister
	err := db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("name asc").
		Find(&registers).Error
	return registers, err
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.CashSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSession(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.CashSession, error) {
	return r.findSession(db.WithContext(ctx), schoolID, id)
}

func (r *repo) FindSessionForUpdate(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.CashSession, error) {
	return r.findSession(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), schoolID, id)
}

func (r *repo) FindSessionForShare(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*domain.CashSession, error) {
	return r.findSession(db.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}), schoolID, id)
}

func (r *repo) findSession(db *gorm.DB, schoolID, id snowflake.ID) (*domain.CashSession, error) {
	var session domain.CashSession
	err := db.Where("school_id = ? AND id = ?", schoolID, id).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkClosed writes the closing snapshot once; a session that is already
// closed is left untouched and gorm.ErrRecordNotFound is returned.
func (r *repo) MarkClosed(ctx context.Context, db *gorm.DB, session *domain.CashSession) error {
	result := db.WithContext(ctx).Model(&domain.CashSession{}).
		Where("school_id = ? AND id = ? AND closed_at IS NULL", session.SchoolID, session.ID).
		Updates(map[string]any{
			"closed_at":   session.ClosedAt,
			"closed_by":   session.ClosedBy,
			"open_marker": nil,
			"totals":      session.Totals,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) ListSessions(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req domain.ListSessionsRequest) ([]domain.CashSession, error) {
	stmt := db.WithContext(ctx).Where("school_id = ?", schoolID)
	if req.RegisterID != 0 {
		stmt = stmt.Where("cash_register_id = ?", req.RegisterID)
	}
	if req.OpenOnly {
		stmt = stmt.Where("closed_at IS NULL")
	}
	if req.Limit > 0 {
		stmt = stmt.Limit(req.Limit)
	}
	var sessions []domain.CashSession
	err := stmt.Order("opened_at desc").Order("id desc").Find(&sessions).Error
	return sessions, err
}
