package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
)

func (s *Service) UpsertMethod(ctx context.Context, schoolID snowflake.ID, req domain.UpsertMethodRequest) (*domain.PaymentMethod, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" || len(code) > 32 {
		return nil, domain.ErrInvalidMethodCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}

	if req.ID == 0 {
		method := domain.PaymentMethod{
			ID:        s.genID.Generate(),
			SchoolID:  schoolID,
			Code:      code,
			Name:      name,
			IsActive:  req.IsActive == nil || *req.IsActive,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertMethod(ctx, s.db, &method); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil, domain.ErrMethodCodeTaken
			}
			return nil, err
		}
		return &method, nil
	}

	method, err := s.repo.FindMethod(ctx, s.db, schoolID, req.ID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, domain.ErrMethodNotFound
	}
	method.Code = code
	method.Name = name
	if req.IsActive != nil {
		method.IsActive = *req.IsActive
	}
	if err := s.repo.UpdateMethod(ctx, s.db, method); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrMethodCodeTaken
		}
		return nil, err
	}
	return method, nil
}

func (s *Service) ListMethods(ctx context.Context, schoolID snowflake.ID, activeOnly bool) ([]domain.PaymentMethod, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListMethods(ctx, s.db, schoolID, activeOnly)
}

func (s *Service) ListPayments(ctx context.Context, schoolID snowflake.ID, req domain.ListPaymentsRequest) ([]domain.Payment, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.List(ctx, s.db, schoolID, req)
}
