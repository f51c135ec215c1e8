package domain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type UpsertRegisterRequest struct {
	ID       snowflake.ID `json:"id"`
	Name     string       `json:"name"`
	Location string       `json:"location"`
	IsActive *bool        `json:"is_active"`
}

type ListSessionsRequest struct {
	RegisterID snowflake.ID
	OpenOnly   bool
	Limit      int
}

type Service interface {
	UpsertRegister(ctx context.Context, schoolID snowflake.ID, req UpsertRegisterRequest) (*CashRegister, error)
	ListRegisters(ctx context.Context, schoolID snowflake.ID) ([]CashRegister, error)

	Open(ctx context.Context, schoolID, registerID snowflake.ID, openedBy string) (*CashSession, error)
	Close(ctx context.Context, schoolID, sessionID snowflake.ID, closedBy string) (*CashSession, error)
	GetSession(ctx context.Context, schoolID, sessionID snowflake.ID) (*CashSession, error)
	ListSessions(ctx context.Context, schoolID snowflake.ID, req ListSessionsRequest) ([]CashSession, error)

	XReport(ctx context.Context, schoolID, sessionID snowflake.ID) (*Report, error)
	ZReport(ctx context.Context, schoolID, sessionID snowflake.ID) (*Report, error)
	RenderZReportPDF(ctx context.Context, schoolID, sessionID snowflake.ID) (io.Reader, error)
}

type Repository interface {
	InsertRegister(ctx context.Context, db *gorm.DB, register *CashRegister) error
	UpdateRegister(ctx context.Context, db *gorm.DB, register *CashRegister) error
	FindRegister(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*CashRegister, error)
	ListRegisters(ctx context.Context, db *gorm.DB, schoolID snowflake.ID) ([]CashRegister, error)

	InsertSession(ctx context.Context, db *gorm.DB, session *CashSession) error
	FindSession(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*CashSession, error)
	FindSessionForUpdate(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*CashSession, error)
	// FindSessionForShare blocks a concurrent close until db commits.
	FindSessionForShare(ctx context.Context, db *gorm.DB, schoolID, id snowflake.ID) (*CashSession, error)
	MarkClosed(ctx context.Context, db *gorm.DB, session *CashSession) error
	ListSessions(ctx context.Context, db *gorm.DB, schoolID snowflake.ID, req ListSessionsRequest) ([]CashSession, error)
}

var (
	ErrInvalidSchool    = errors.New("invalid_school")
	ErrInvalidName      = errors.New("invalid_register_name")
	ErrInvalidActor     = errors.New("invalid_actor")
	ErrRegisterNotFound = errors.New("register_not_found")
	ErrRegisterInactive = errors.New("register_inactive")
	ErrSessionNotFound  = errors.New("session_not_found")
	ErrSessionOpen      = errors.New("session_open")
	ErrSessionConflict  = errors.New("session_conflict")
	ErrAlreadyClosed    = errors.New("session_already_closed")
	ErrRendererMissing  = errors.New("pdf_renderer_not_configured")
)

// SessionConflictError reports that the register already has an open session.
type SessionConflictError struct {
	RegisterID snowflake.ID
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("register %s already has an open session", e.RegisterID)
}

func (e *SessionConflictError) Is(target error) bool {
	return target == ErrSessionConflict
}

// AlreadyClosedError reports an operation that needs an open session.
type AlreadyClosedError struct {
	SessionID snowflake.ID
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("session %s is already closed", e.SessionID)
}

func (e *AlreadyClosedError) Is(target error) bool {
	return target == ErrAlreadyClosed
}
