package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/schoolledger/internal/audit"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	"github.com/smallbiznis/schoolledger/internal/cashsession"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"github.com/smallbiznis/schoolledger/internal/catalog"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/internal/clock"
	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/smallbiznis/schoolledger/internal/invoice"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	"github.com/smallbiznis/schoolledger/internal/latefee"
	latefeedomain "github.com/smallbiznis/schoolledger/internal/latefee/domain"
	"github.com/smallbiznis/schoolledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/schoolledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/schoolledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/schoolledger/internal/observability/tracing"
	"github.com/smallbiznis/schoolledger/internal/payment"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/internal/providers"
	"github.com/smallbiznis/schoolledger/internal/ratelimit"
	"github.com/smallbiznis/schoolledger/internal/tenant"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	providers.Module,
	ratelimit.Module,
	tenant.Module,
	catalog.Module,
	invoice.Module,
	latefee.Module,
	payment.Module,
	cashsession.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	clock          clock.Clock
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	tenantSvc      tenantdomain.Service
	catalogSvc     catalogdomain.Service
	invoiceSvc     invoicedomain.Service
	lateFeeSvc     latefeedomain.Service
	paymentSvc     paymentdomain.Service
	cashSessionSvc cashsessiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Clock          clock.Clock
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	TenantSvc      tenantdomain.Service
	CatalogSvc     catalogdomain.Service
	InvoiceSvc     invoicedomain.Service
	LateFeeSvc     latefeedomain.Service
	PaymentSvc     paymentdomain.Service
	CashSessionSvc cashsessiondomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		clock:          p.Clock,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		tenantSvc:      p.TenantSvc,
		catalogSvc:     p.CatalogSvc,
		invoiceSvc:     p.InvoiceSvc,
		lateFeeSvc:     p.LateFeeSvc,
		paymentSvc:     p.PaymentSvc,
		cashSessionSvc: p.CashSessionSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/api/v1", s.PrincipalRequired())

	// -------- Schools (platform) --------
	v1.POST("/schools", s.CreateSchool)
	v1.GET("/schools", s.ListSchools)

	api := v1.Group("", s.SchoolContext())

	// -------- Current school --------
	api.GET("/school", s.authorizeSchoolAction(authorization.ObjectSchool, authorization.ActionSchoolView), s.GetSchool)
	api.PATCH("/school/settings", s.authorizeSchoolAction(authorization.ObjectSchool, authorization.ActionSchoolUpdate), s.UpdateSchoolSettings)

	// -------- Catalog --------
	catalogView := s.authorizeSchoolAction(authorization.ObjectCatalog, authorization.ActionCatalogView)
	catalogManage := s.authorizeSchoolAction(authorization.ObjectCatalog, authorization.ActionCatalogManage)

	api.GET("/charge_concepts", catalogView, s.ListChargeConcepts)
	api.POST("/charge_concepts", catalogManage, s.UpsertChargeConcept)

	api.GET("/plans", catalogView, s.ListPlans)
	api.POST("/plans", catalogManage, s.UpsertPlan)
	api.GET("/plans/:id", catalogView, s.GetPlan)
	api.PUT("/plans/:id", catalogManage, s.UpsertPlan)
	api.POST("/plans/:id/deactivate", catalogManage, s.DeactivatePlan)
	api.GET("/plans/:id/items", catalogView, s.ListPlanItems)
	api.POST("/plans/:id/items", catalogManage, s.UpsertPlanItem)
	api.DELETE("/plan_items/:id", catalogManage, s.DeletePlanItem)

	api.GET("/assignments", catalogView, s.ListAssignments)
	api.POST("/assignments", catalogManage, s.UpsertAssignment)
	api.POST("/assignments/:id/status", catalogManage, s.SetAssignmentStatus)
	api.GET("/billable_assignments", catalogView, s.ListBillableAssignments)

	// -------- Invoices --------
	invoiceView := s.authorizeSchoolAction(authorization.ObjectInvoice, authorization.ActionInvoiceView)

	api.POST("/invoices/generate", s.authorizeSchoolAction(authorization.ObjectInvoice, authorization.ActionInvoiceGenerate), s.GenerateInvoices)
	api.GET("/invoices", invoiceView, s.ListInvoices)
	api.GET("/invoices/:id", invoiceView, s.GetInvoiceByID)
	api.GET("/invoices/:id/pdf", invoiceView, s.DownloadInvoicePDF)
	api.POST("/invoices/:id/void", s.authorizeSchoolAction(authorization.ObjectInvoice, authorization.ActionInvoiceVoid), s.VoidInvoice)
	api.POST("/invoices/:id/stamp", s.authorizeSchoolAction(authorization.ObjectInvoice, authorization.ActionInvoiceStamp), s.StampInvoice)
	api.GET("/invoice_runs", invoiceView, s.ListGenerationRuns)

	// -------- Late fees --------
	api.POST("/late_fees/accrue", s.authorizeSchoolAction(authorization.ObjectLateFee, authorization.ActionLateFeeAccrue), s.AccrueLateFees)

	// -------- Payments --------
	paymentView := s.authorizeSchoolAction(authorization.ObjectPayment, authorization.ActionPaymentView)

	api.GET("/payment_methods", paymentView, s.ListPaymentMethods)
	api.POST("/payment_methods", s.authorizeSchoolAction(authorization.ObjectPayment, authorization.ActionPaymentManageMethods), s.UpsertPaymentMethod)
	api.GET("/payments", paymentView, s.ListPayments)
	api.POST("/payments", s.authorizeSchoolAction(authorization.ObjectPayment, authorization.ActionPaymentApply), s.ApplyPayment)

	// -------- Cash sessions --------
	sessionView := s.authorizeSchoolAction(authorization.ObjectCashSession, authorization.ActionCashSessionView)

	api.GET("/cash_registers", sessionView, s.ListCashRegisters)
	api.POST("/cash_registers", s.authorizeSchoolAction(authorization.ObjectCashSession, authorization.ActionCashSessionManage), s.UpsertCashRegister)
	api.POST("/cash_registers/:id/sessions", s.authorizeSchoolAction(authorization.ObjectCashSession, authorization.ActionCashSessionOpen), s.OpenCashSession)
	api.GET("/cash_sessions", sessionView, s.ListCashSessions)
	api.GET("/cash_sessions/:id", sessionView, s.GetCashSession)
	api.POST("/cash_sessions/:id/close", s.authorizeSchoolAction(authorization.ObjectCashSession, authorization.ActionCashSessionClose), s.CloseCashSession)
	api.GET("/cash_sessions/:id/x_report", sessionView, s.GetXReport)
	api.GET("/cash_sessions/:id/z_report", sessionView, s.GetZReport)
	api.GET("/cash_sessions/:id/z_report/pdf", sessionView, s.DownloadZReportPDF)

	// -------- Audit --------
	api.GET("/audit_logs", s.authorizeSchoolAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
