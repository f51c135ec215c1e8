package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"github.com/smallbiznis/schoolledger/internal/clock"
	"github.com/smallbiznis/schoolledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"github.com/smallbiznis/schoolledger/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	TenantSvc   tenantdomain.Service

	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Notifier *notify.Dispatcher  `optional:"true"`
	PDF      pdf.Provider        `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	tenantSvc   tenantdomain.Service

	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	notifier *notify.Dispatcher
	pdf      pdf.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("cashsession.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		tenantSvc:   p.TenantSvc,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		notifier:    p.Notifier,
		pdf:         p.PDF,
	}
}

func (s *Service) UpsertRegister(ctx context.Context, schoolID snowflake.ID, req domain.UpsertRegisterRequest) (*domain.CashRegister, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	if req.ID == 0 {
		register := domain.CashRegister{
			ID:        s.genID.Generate(),
			SchoolID:  schoolID,
			Name:      name,
			Location:  strings.TrimSpace(req.Location),
			IsActive:  req.IsActive == nil || *req.IsActive,
			CreatedAt: s.clock.Now(),
		}
		if err := s.repo.InsertRegister(ctx, s.db, &register); err != nil {
			return nil, err
		}
		return &register, nil
	}

	register, err := s.repo.FindRegister(ctx, s.db, schoolID, req.ID)
	if err != nil {
		return nil, err
	}
	if register == nil {
		return nil, domain.ErrRegisterNotFound
	}
	register.Name = name
	register.Location = strings.TrimSpace(req.Location)
	if req.IsActive != nil {
		register.IsActive = *req.IsActive
	}
	if err := s.repo.UpdateRegister(ctx, s.db, register); err != nil {
		return nil, err
	}
	return register, nil
}

func (s *Service) ListRegisters(ctx context.Context, schoolID snowflake.ID) ([]domain.CashRegister, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	return s.repo.ListRegisters(ctx, s.db, schoolID)
}

// Open starts a session on an active register. The unique open marker is the
// only guard against a second open session, so two cashiers racing on the
// same register get exactly one winner.
func (s *Service) Open(ctx context.Context, schoolID, registerID snowflake.ID, openedBy string) (*domain.CashSession, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	openedBy = strings.TrimSpace(openedBy)
	if openedBy == "" {
		return nil, domain.ErrInvalidActor
	}
	register, err := s.repo.FindRegister(ctx, s.db, schoolID, registerID)
	if err != nil {
		return nil, err
	}
	if register == nil {
		return nil, domain.ErrRegisterNotFound
	}
	if !register.IsActive {
		return nil, domain.ErrRegisterInactive
	}

	now := s.clock.Now()
	marker := register.ID
	session := domain.CashSession{
		ID:             s.genID.Generate(),
		SchoolID:       schoolID,
		CashRegisterID: register.ID,
		OpenedBy:       openedBy,
		OpenedAt:       now,
		OpenMarker:     &marker,
		Totals:         datatypes.NewJSONType(domain.Totals{ByMethod: []domain.MethodTotal{}}),
		CreatedAt:      now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithSchool(tx, int64(schoolID)); err != nil {
			return err
		}
		return s.repo.InsertSession(ctx, tx, &session)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, &domain.SessionConflictError{RegisterID: register.ID}
		}
		return nil, err
	}

	s.log.Info("cash session opened",
		zap.String("school_id", schoolID.String()),
		zap.String("session_id", session.ID.String()),
		zap.String("register_id", register.ID.String()),
		zap.String("opened_by", openedBy),
	)
	s.audit(ctx, schoolID, "cash_session.open", session.ID, map[string]any{
		"register_id": register.ID.String(),
	})
	return &session, nil
}

// Close freezes the session totals. The snapshot is written once and later
// served by ZReport unchanged.
func (s *Service) Close(ctx context.Context, schoolID, sessionID snowflake.ID, closedBy string) (*domain.CashSession, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	closedBy = strings.TrimSpace(closedBy)
	if closedBy == "" {
		return nil, domain.ErrInvalidActor
	}

	var closed *domain.CashSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithSchool(tx, int64(schoolID)); err != nil {
			return err
		}
		session, err := s.repo.FindSessionForUpdate(ctx, tx, schoolID, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrSessionNotFound
		}
		if !session.IsOpen() {
			return &domain.AlreadyClosedError{SessionID: session.ID}
		}

		totals, err := s.totals(ctx, tx, schoolID, session.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		session.ClosedAt = &now
		session.ClosedBy = &closedBy
		session.OpenMarker = nil
		session.Totals = datatypes.NewJSONType(totals)
		if err := s.repo.MarkClosed(ctx, tx, session); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &domain.AlreadyClosedError{SessionID: session.ID}
			}
			return err
		}
		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	totals := closed.Totals.Data()
	s.log.Info("cash session closed",
		zap.String("school_id", schoolID.String()),
		zap.String("session_id", closed.ID.String()),
		zap.Int("count", totals.Count),
		zap.Int64("grand_total", totals.GrandTotal),
	)
	s.metrics.RecordSessionClosed(ctx, schoolID.String())
	s.notifier.Dispatch(ctx, notify.Event{
		Name:     notify.EventSessionClosed,
		SchoolID: schoolID.String(),
		Payload: map[string]any{
			"session_id":  closed.ID.String(),
			"register_id": closed.CashRegisterID.String(),
			"closed_by":   closedBy,
			"count":       totals.Count,
			"grand_total": totals.GrandTotal,
		},
	})
	s.audit(ctx, schoolID, "cash_session.close", closed.ID, map[string]any{
		"count":       totals.Count,
		"grand_total": totals.GrandTotal,
	})
	return closed, nil
}

func (s *Service) GetSession(ctx context.Context, schoolID, sessionID snowflake.ID) (*domain.CashSession, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	session, err := s.repo.FindSession(ctx, s.db, schoolID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, schoolID snowflake.ID, req domain.ListSessionsRequest) ([]domain.CashSession, error) {
	if schoolID == 0 {
		return nil, domain.ErrInvalidSchool
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.ListSessions(ctx, s.db, schoolID, req)
}

// totals sums the session's payments per method, ordered by method code.
func (s *Service) totals(ctx context.Context, tx *gorm.DB, schoolID, sessionID snowflake.ID) (domain.Totals, error) {
	rows, err := s.paymentRepo.TotalsBySession(ctx, tx, schoolID, sessionID)
	if err != nil {
		return domain.Totals{}, err
	}
	methods, err := s.paymentRepo.ListMethods(ctx, tx, schoolID, false)
	if err != nil {
		return domain.Totals{}, err
	}
	byID := make(map[snowflake.ID]paymentdomain.PaymentMethod, len(methods))
	for _, method := range methods {
		byID[method.ID] = method
	}

	totals := domain.Totals{ByMethod: make([]domain.MethodTotal, 0, len(rows))}
	for _, row := range rows {
		method := byID[row.PaymentMethodID]
		totals.ByMethod = append(totals.ByMethod, domain.MethodTotal{
			PaymentMethodID: row.PaymentMethodID,
			Code:            method.Code,
			Name:            method.Name,
			Count:           row.Count,
			Amount:          row.Amount,
		})
		totals.Count += row.Count
		totals.GrandTotal += row.Amount
	}
	sortMethodTotals(totals.ByMethod)
	return totals, nil
}

func (s *Service) audit(ctx context.Context, schoolID snowflake.ID, action string, sessionID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		SchoolID:   schoolID,
		Action:     action,
		TargetType: "cash_session",
		TargetID:   sessionID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
