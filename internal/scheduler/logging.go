package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/schoolledger/internal/observability/context"
	obslogger "github.com/smallbiznis/schoolledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/schoolledger/internal/observability/metrics"
	"github.com/smallbiznis/schoolledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job across all schools. Its correlation
// id is shared with every invoice generation run it triggers.
type jobRun struct {
	job           string
	correlationID string
	startedAt     time.Time
	schools       int
	processed     int
	failures      int
}

type jobRunKey struct{}

func (r *jobRun) addProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) fail() {
	if r != nil {
		r.failures++
	}
}

// beginJobRun attaches a run to ctx unless one is already there, which is the
// case when a job is invoked through runJob. owner reports whether the caller
// created the run and must log its end.
func (s *Scheduler) beginJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	run := &jobRun{job: job, correlationID: cid, startedAt: s.clock.Now()}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")

	s.logger(ctx).Info("scheduler.job.start", zap.String("job", job))
	return ctx, run, true
}

func (s *Scheduler) endJobRun(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("schools", run.schools),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", run.failures),
	}
	if run.failures > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func schoolContext(ctx context.Context, schoolID snowflake.ID) context.Context {
	if schoolID == 0 {
		return ctx
	}
	return obscontext.WithSchoolID(ctx, schoolID.String())
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// schoolFailed logs a per-school failure and counts it on the run and in
// the scheduler metrics.
func (s *Scheduler) schoolFailed(ctx context.Context, run *jobRun, msg string, err error) {
	run.fail()
	obsmetrics.Scheduler().IncSchoolError(run.job, err)
	s.logger(ctx).Error(msg,
		zap.String("job", run.job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
