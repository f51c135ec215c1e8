package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	latefeedomain "github.com/smallbiznis/schoolledger/internal/latefee/domain"
	obsmetrics "github.com/smallbiznis/schoolledger/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobGenerateInvoices = "generate_invoices"
	JobAccrueLateFees   = "accrue_late_fees"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	TenantSvc  tenantdomain.Service
	InvoiceSvc invoicedomain.Service
	LateFeeSvc latefeedomain.Service
	AuthzSvc   authorization.Service
	Config     Config `optional:"true"`
}

// Scheduler runs the periodic ledger sweeps for every school. Both jobs are
// idempotent, so an interrupted run is simply repeated on the next tick.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	tenantSvc  tenantdomain.Service
	invoiceSvc invoicedomain.Service
	lateFeeSvc latefeedomain.Service
	authzSvc   authorization.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.TenantSvc == nil || p.InvoiceSvc == nil || p.LateFeeSvc == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		tenantSvc:  p.TenantSvc,
		invoiceSvc: p.InvoiceSvc,
		lateFeeSvc: p.LateFeeSvc,
		authzSvc:   p.AuthzSvc,
	}, nil
}

// runJob runs fn under a soft deadline. A job that times out is reported
// in metrics and logs but not returned as an error; the next tick resumes it.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.beginJobRun(ctx, name)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(run.startedAt))
	if owner {
		if err != nil && run.failures == 0 {
			run.fail()
		}
		s.endJobRun(ctx, run)
	}
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobGenerateInvoices, s.GenerateInvoicesJob},
		{JobAccrueLateFees, s.AccrueLateFeesJob},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// GenerateInvoicesJob bills the current month, plus the configured lookahead,
// for every school. The month is taken in the school's own time zone.
func (s *Scheduler) GenerateInvoicesJob(ctx context.Context) error {
	ctx, run, owner := s.beginJobRun(ctx, JobGenerateInvoices)
	if owner {
		defer s.endJobRun(ctx, run)
	}

	return s.forEachSchool(ctx, run, authorization.ObjectInvoice, authorization.ActionInvoiceGenerate,
		func(ctx context.Context, school tenantdomain.School) error {
			from := period.Of(s.clock.Now().In(schoolLocation(school)))
			to := from.AddMonths(s.cfg.LookaheadMonths)
			result, err := s.invoiceSvc.Generate(ctx, invoicedomain.GenerateRequest{
				SchoolID:  school.ID,
				FromMonth: from.String(),
				ToMonth:   to.String(),
			})
			if result != nil {
				run.addProcessed(result.CreatedInvoices)
				obsmetrics.Scheduler().AddBatchProcessed(JobGenerateInvoices, "invoice", result.CreatedInvoices)
				s.logger(ctx).Info("scheduler.invoices.generated",
					zap.String("from_month", from.String()),
					zap.String("to_month", to.String()),
					zap.Int("created", result.CreatedInvoices),
					zap.Int("skipped", result.Skipped),
					zap.Int("failed", result.Failed),
				)
			}
			return err
		})
}

func (s *Scheduler) AccrueLateFeesJob(ctx context.Context) error {
	ctx, run, owner := s.beginJobRun(ctx, JobAccrueLateFees)
	if owner {
		defer s.endJobRun(ctx, run)
	}

	return s.forEachSchool(ctx, run, authorization.ObjectLateFee, authorization.ActionLateFeeAccrue,
		func(ctx context.Context, school tenantdomain.School) error {
			result, err := s.lateFeeSvc.Accrue(ctx, school.ID, s.clock.Now())
			run.addProcessed(result.Updated)
			obsmetrics.Scheduler().AddBatchProcessed(JobAccrueLateFees, "invoice", result.Updated)
			return err
		})
}

// forEachSchool runs fn per school as the system actor. A failing school is
// logged and counted; the loop only stops when ctx ends.
func (s *Scheduler) forEachSchool(
	ctx context.Context,
	run *jobRun,
	object, action string,
	fn func(ctx context.Context, school tenantdomain.School) error,
) error {
	schools, err := s.tenantSvc.List(ctx)
	if err != nil {
		run.fail()
		s.logger(ctx).Error("scheduler.schools.list_failed", zap.String("job", run.job), zap.Error(err))
		return err
	}
	if s.cfg.MaxSchoolsPerRun > 0 && len(schools) > s.cfg.MaxSchoolsPerRun {
		schools = schools[:s.cfg.MaxSchoolsPerRun]
	}

	var errs error
	for _, school := range schools {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}
		run.schools++
		schoolCtx := schoolContext(ctx, school.ID)
		if err := s.authorizeSystem(schoolCtx, school.ID, object, action); err != nil {
			s.schoolFailed(schoolCtx, run, "scheduler.school.forbidden", err)
			errs = errors.Join(errs, err)
			continue
		}
		if err := fn(schoolCtx, school); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return errors.Join(errs, err)
			}
			s.schoolFailed(schoolCtx, run, "scheduler.school.failed", err)
			errs = errors.Join(errs, fmt.Errorf("school %s: %w", school.ID, err))
		}
	}
	return errs
}

func (s *Scheduler) authorizeSystem(ctx context.Context, schoolID snowflake.ID, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, authorization.SystemActor(), schoolID, object, action)
}

func schoolLocation(school tenantdomain.School) *time.Location {
	if name := strings.TrimSpace(school.Timezone); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
