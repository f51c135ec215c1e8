package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	latefeedomain "github.com/smallbiznis/schoolledger/internal/latefee/domain"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTenantSvc struct {
	mock.Mock
	tenantdomain.Service
}

func (m *mockTenantSvc) List(ctx context.Context) ([]tenantdomain.School, error) {
	args := m.Called(ctx)
	return args.Get(0).([]tenantdomain.School), args.Error(1)
}

type mockInvoiceSvc struct {
	mock.Mock
	invoicedomain.Service
}

func (m *mockInvoiceSvc) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.InvoiceGenerationRun, error) {
	args := m.Called(ctx, req)
	run, _ := args.Get(0).(*invoicedomain.InvoiceGenerationRun)
	return run, args.Error(1)
}

type mockLateFeeSvc struct {
	mock.Mock
}

func (m *mockLateFeeSvc) Accrue(ctx context.Context, schoolID snowflake.ID, asOf time.Time) (latefeedomain.Result, error) {
	args := m.Called(ctx, schoolID, asOf)
	return args.Get(0).(latefeedomain.Result), args.Error(1)
}

type mockAuthz struct {
	mock.Mock
}

func (m *mockAuthz) Authorize(ctx context.Context, actor authorization.Actor, schoolID snowflake.ID, object, action string) error {
	return m.Called(ctx, actor, schoolID, object, action).Error(0)
}

type jobFixture struct {
	sched   *Scheduler
	tenants *mockTenantSvc
	invoice *mockInvoiceSvc
	latefee *mockLateFeeSvc
	authz   *mockAuthz
	now     time.Time
}

func newJobFixture(t *testing.T, cfg Config) *jobFixture {
	t.Helper()
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	t.Cleanup(restore)

	f := &jobFixture{
		tenants: &mockTenantSvc{},
		invoice: &mockInvoiceSvc{},
		latefee: &mockLateFeeSvc{},
		authz:   &mockAuthz{},
		now:     time.Date(2024, time.September, 1, 3, 0, 0, 0, time.UTC),
	}
	var err error
	f.sched, err = New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(f.now),
		TenantSvc:  f.tenants,
		InvoiceSvc: f.invoice,
		LateFeeSvc: f.latefee,
		AuthzSvc:   f.authz,
		Config:     cfg,
	})
	require.NoError(t, err)
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGenerateInvoicesJob_UsesSchoolTimezoneAndContinuesOnFailure(t *testing.T) {
	f := newJobFixture(t, Config{LookaheadMonths: 1})
	ctx := context.Background()

	schools := []tenantdomain.School{
		{ID: 1, Timezone: "America/Mexico_City"},
		{ID: 2, Timezone: "UTC"},
		{ID: 3, Timezone: ""},
	}
	f.tenants.On("List", mock.Anything).Return(schools, nil)
	f.authz.On("Authorize", mock.Anything, authorization.SystemActor(), mock.Anything,
		authorization.ObjectInvoice, authorization.ActionInvoiceGenerate).Return(nil)

	// 03:00 UTC on Sep 1 is still Aug 31 in Mexico City
	f.invoice.On("Generate", mock.Anything, invoicedomain.GenerateRequest{SchoolID: 1, FromMonth: "2024-08", ToMonth: "2024-09"}).
		Return(&invoicedomain.InvoiceGenerationRun{CreatedInvoices: 4}, nil)
	f.invoice.On("Generate", mock.Anything, invoicedomain.GenerateRequest{SchoolID: 2, FromMonth: "2024-09", ToMonth: "2024-10"}).
		Return(nil, errors.New("boom"))
	f.invoice.On("Generate", mock.Anything, invoicedomain.GenerateRequest{SchoolID: 3, FromMonth: "2024-09", ToMonth: "2024-10"}).
		Return(&invoicedomain.InvoiceGenerationRun{CreatedInvoices: 1, Skipped: 2}, nil)

	err := f.sched.GenerateInvoicesJob(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	f.invoice.AssertNumberOfCalls(t, "Generate", 3)
}

func TestAccrueLateFeesJob_SkipsForbiddenSchools(t *testing.T) {
	f := newJobFixture(t, Config{})

	f.tenants.On("List", mock.Anything).Return([]tenantdomain.School{{ID: 1}, {ID: 2}}, nil)
	f.authz.On("Authorize", mock.Anything, mock.Anything, snowflake.ID(1), authorization.ObjectLateFee, authorization.ActionLateFeeAccrue).
		Return(authorization.ErrForbidden)
	f.authz.On("Authorize", mock.Anything, mock.Anything, snowflake.ID(2), authorization.ObjectLateFee, authorization.ActionLateFeeAccrue).
		Return(nil)
	f.latefee.On("Accrue", mock.Anything, snowflake.ID(2), f.now).
		Return(latefeedomain.Result{Scanned: 3, Updated: 2}, nil)

	err := f.sched.AccrueLateFeesJob(context.Background())
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	f.latefee.AssertNotCalled(t, "Accrue", mock.Anything, snowflake.ID(1), mock.Anything)
	f.latefee.AssertExpectations(t)
}

func TestRunOnce_RespectsEnabledJobsAndSchoolLimit(t *testing.T) {
	f := newJobFixture(t, Config{EnabledJobs: []string{"ACCRUE_LATE_FEES"}, MaxSchoolsPerRun: 1})

	f.tenants.On("List", mock.Anything).Return([]tenantdomain.School{{ID: 1}, {ID: 2}}, nil)
	f.authz.On("Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.latefee.On("Accrue", mock.Anything, snowflake.ID(1), f.now).Return(latefeedomain.Result{}, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.invoice.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	f.latefee.AssertNumberOfCalls(t, "Accrue", 1)
}

func TestForEachSchool_StopsWhenContextEnds(t *testing.T) {
	f := newJobFixture(t, Config{})
	f.tenants.On("List", mock.Anything).Return([]tenantdomain.School{{ID: 1}, {ID: 2}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.sched.AccrueLateFeesJob(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	f.latefee.AssertNotCalled(t, "Accrue", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateInvoicesJob_SharesCorrelationIDAcrossSchools(t *testing.T) {
	f := newJobFixture(t, Config{})

	f.tenants.On("List", mock.Anything).Return([]tenantdomain.School{{ID: 1}, {ID: 2}}, nil)
	f.authz.On("Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	seen := map[string]bool{}
	f.invoice.On("Generate", mock.MatchedBy(func(ctx context.Context) bool {
		seen[correlation.ExtractCorrelationID(ctx)] = true
		return true
	}), mock.Anything).Return(&invoicedomain.InvoiceGenerationRun{}, nil)

	require.NoError(t, f.sched.GenerateInvoicesJob(context.Background()))
	f.invoice.AssertNumberOfCalls(t, "Generate", 2)
	assert.Len(t, seen, 1)
	assert.NotContains(t, seen, "")
}
