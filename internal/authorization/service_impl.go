package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const anyDomain = "*"

const (
	ObjectSchool      = "school"
	ObjectCatalog     = "catalog"
	ObjectInvoice     = "invoice"
	ObjectLateFee     = "late_fee"
	ObjectPayment     = "payment"
	ObjectCashSession = "cash_session"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionSchoolCreate = "school.create"
	ActionSchoolView   = "school.view"
	ActionSchoolUpdate = "school.update"

	ActionCatalogView   = "catalog.view"
	ActionCatalogManage = "catalog.manage"

	ActionInvoiceView     = "invoice.view"
	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceVoid     = "invoice.void"
	ActionInvoiceStamp    = "invoice.stamp"

	ActionLateFeeAccrue = "late_fee.accrue"

	ActionPaymentView          = "payment.view"
	ActionPaymentApply         = "payment.apply"
	ActionPaymentManageMethods = "payment.manage_methods"

	ActionCashSessionView   = "cash_session.view"
	ActionCashSessionOpen   = "cash_session.open"
	ActionCashSessionClose  = "cash_session.close"
	ActionCashSessionManage = "cash_session.manage"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize allows the call when any of the actor's roles grants the action
// in the school's domain.
func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, schoolID snowflake.ID, object string, action string) error {
	if actor.Type != ActorUser && actor.Type != ActorSystem {
		return ErrInvalidActor
	}
	if len(actor.Roles) == 0 {
		return ErrInvalidActor
	}
	if schoolID == 0 {
		return ErrInvalidSchool
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	domain := schoolDomain(schoolID)
	for _, role := range actor.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		allowed, err := s.enforcer.Enforce(roleSubject(role), domain, object, action)
		if err != nil {
			return err
		}
		if allowed {
			if shouldAuditGrant(action) {
				s.audit(ctx, "authorization.granted", actor, schoolID, object, action)
			}
			return nil
		}
	}

	s.log.Debug("authorization denied",
		zap.String("actor_type", string(actor.Type)),
		zap.String("object", object),
		zap.String("action", action),
	)
	s.audit(ctx, "authorization.denied", actor, schoolID, object, action)
	return ErrForbidden
}

func (s *ServiceImpl) audit(ctx context.Context, name string, actor Actor, schoolID snowflake.ID, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		SchoolID:   schoolID,
		ActorType:  string(actor.Type),
		ActorID:    actor.ID,
		Action:     name,
		TargetType: "authorization",
		TargetID:   "capability",
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"roles":  strings.Join(actor.Roles, ","),
		},
	})
}

func schoolDomain(schoolID snowflake.ID) string {
	return fmt.Sprintf("school:%s", schoolID.String())
}

func roleSubject(role string) string {
	return "role:" + role
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionInvoiceVoid, ActionCashSessionClose:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Platform operators act in whichever school they select.
		{roleSubject(RoleSuperAdmin), anyDomain, "*", "*"},

		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectSchool, ActionSchoolView},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectSchool, ActionSchoolUpdate},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectCatalog, "*"},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectInvoice, "*"},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectLateFee, ActionLateFeeAccrue},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectPayment, "*"},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectCashSession, "*"},
		{roleSubject(RoleSchoolAdmin), anyDomain, ObjectAuditLog, ActionAuditLogView},

		{roleSubject(RoleCashier), anyDomain, ObjectSchool, ActionSchoolView},
		{roleSubject(RoleCashier), anyDomain, ObjectCatalog, ActionCatalogView},
		{roleSubject(RoleCashier), anyDomain, ObjectInvoice, ActionInvoiceView},
		{roleSubject(RoleCashier), anyDomain, ObjectPayment, ActionPaymentView},
		{roleSubject(RoleCashier), anyDomain, ObjectPayment, ActionPaymentApply},
		{roleSubject(RoleCashier), anyDomain, ObjectCashSession, ActionCashSessionView},
		{roleSubject(RoleCashier), anyDomain, ObjectCashSession, ActionCashSessionOpen},
		{roleSubject(RoleCashier), anyDomain, ObjectCashSession, ActionCashSessionClose},

		{roleSubject(RoleSystem), anyDomain, ObjectInvoice, ActionInvoiceGenerate},
		{roleSubject(RoleSystem), anyDomain, ObjectLateFee, ActionLateFeeAccrue},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
