package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/schoolledger/internal/invoice/repository"
	"github.com/smallbiznis/schoolledger/internal/latefee/domain"
	"github.com/smallbiznis/schoolledger/internal/providers/notify"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	schoolID      = snowflake.ID(100)
	otherSchoolID = snowflake.ID(200)
)

type mockTenantSvc struct {
	mock.Mock
	tenantdomain.Service
}

func (m *mockTenantSvc) Settings(ctx context.Context, id snowflake.ID) (tenantdomain.Settings, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(tenantdomain.Settings), args.Error(1)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ctx context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	svc        domain.Service
	dispatcher *notify.Dispatcher
	recorder   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&invoicedomain.Invoice{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tenantSvc := &mockTenantSvc{}
	tenantSvc.On("Settings", mock.Anything, schoolID).
		Return(tenantdomain.Settings{SchoolID: schoolID, Currency: "MXN", LateFeePerDiem: 500, InvoiceDueDay: 10}, nil)

	rec := &recorder{}
	dispatcher := notify.NewDispatcher(rec, zap.NewNop())
	return &fixture{
		db:         db,
		node:       node,
		recorder:   rec,
		dispatcher: dispatcher,
		svc: New(Params{
			DB:          db,
			Log:         zap.NewNop(),
			Clock:       clock.NewFakeClock(time.Date(2024, time.September, 20, 18, 0, 0, 0, time.UTC)),
			InvoiceRepo: invoicerepo.Provide(),
			TenantSvc:   tenantSvc,
			Notifier:    dispatcher,
		}),
	}
}

func (f *fixture) invoice(t *testing.T, due time.Time, subtotal, paid int64, month int) invoicedomain.Invoice {
	t.Helper()
	return f.invoiceFor(t, schoolID, due, subtotal, paid, month)
}

func (f *fixture) invoiceFor(t *testing.T, school snowflake.ID, due time.Time, subtotal, paid int64, month int) invoicedomain.Invoice {
	t.Helper()
	now := time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)
	invoice := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		SchoolID:        school,
		StudentID:       7,
		ChargeConceptID: 1,
		PeriodMonth:     month,
		PeriodYear:      2024,
		PlanID:          1,
		AssignmentID:    1,
		Currency:        "MXN",
		DueDate:         due,
		Subtotal:        subtotal,
		PaidTotal:       paid,
		CreatedAt:       now,
	}
	invoicedomain.Recompute(&invoice, now)
	require.NoError(t, f.db.Create(&invoice).Error)
	return invoice
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.Where("id = ?", id).Take(&invoice).Error)
	return invoice
}

func date(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func TestAccrue_RecomputesFeesIdempotently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := f.invoice(t, date(time.September, 10), 50000, 0, 9)
	partial := f.invoice(t, date(time.September, 15), 30000, 20000, 10)
	paid := f.invoice(t, date(time.September, 1), 10000, 10000, 11)
	notDue := f.invoice(t, date(time.September, 25), 50000, 0, 12)

	asOf := time.Date(2024, time.September, 20, 17, 30, 0, 0, time.UTC)
	result, err := f.svc.Accrue(ctx, schoolID, asOf)
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Scanned: 2, Updated: 2}, result)

	got := f.reload(t, open.ID)
	assert.Equal(t, int64(5000), got.LateFeeAccrued)
	assert.Equal(t, int64(55000), got.Balance)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, got.Status)

	got = f.reload(t, partial.ID)
	assert.Equal(t, int64(2500), got.LateFeeAccrued)
	assert.Equal(t, int64(12500), got.Balance)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, got.Status)

	assert.Equal(t, int64(0), f.reload(t, paid.ID).LateFeeAccrued)
	assert.Equal(t, int64(0), f.reload(t, notDue.ID).LateFeeAccrued)

	again, err := f.svc.Accrue(ctx, schoolID, asOf)
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Scanned: 2, Updated: 0}, again)
	assert.Equal(t, int64(5000), f.reload(t, open.ID).LateFeeAccrued)

	require.NoError(t, f.dispatcher.Wait(ctx))
	assert.Equal(t, 2, f.recorder.count())
}

func TestAccrue_EarlierAsOfResetsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, date(time.September, 10), 50000, 0, 9)

	_, err := f.svc.Accrue(ctx, schoolID, date(time.September, 20))
	require.NoError(t, err)
	require.Equal(t, int64(5000), f.reload(t, inv.ID).LateFeeAccrued)

	result, err := f.svc.Accrue(ctx, schoolID, date(time.September, 5))
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Scanned: 1, Updated: 1}, result)

	got := f.reload(t, inv.ID)
	assert.Equal(t, int64(0), got.LateFeeAccrued)
	assert.Equal(t, int64(50000), got.Balance)
	require.NoError(t, f.dispatcher.Wait(ctx))
}

func TestAccrue_LeavesOtherSchoolsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.invoice(t, date(time.September, 10), 50000, 0, 9)
	foreign := f.invoiceFor(t, otherSchoolID, date(time.September, 10), 50000, 0, 9)

	result, err := f.svc.Accrue(ctx, schoolID, date(time.September, 20))
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Scanned: 1, Updated: 1}, result)

	assert.Equal(t, int64(5000), f.reload(t, own.ID).LateFeeAccrued)
	got := f.reload(t, foreign.ID)
	assert.Equal(t, int64(0), got.LateFeeAccrued)
	assert.Equal(t, int64(50000), got.Balance)
	assert.Equal(t, foreign.UpdatedAt.Unix(), got.UpdatedAt.Unix())
	require.NoError(t, f.dispatcher.Wait(ctx))
}

func TestAccrue_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.invoice(t, date(time.September, 10), 50000, 0, 9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Accrue(ctx, schoolID, date(time.September, 20))
	assert.Error(t, err)
}

func TestAccrue_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accrue(context.Background(), 0, date(time.September, 20))
	assert.ErrorIs(t, err, domain.ErrInvalidSchool)
	_, err = f.svc.Accrue(context.Background(), schoolID, time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidAsOf)
}

func TestLateFee(t *testing.T) {
	due := date(time.September, 10)
	tests := []struct {
		name    string
		asOf    time.Time
		perDiem int64
		want    int64
	}{
		{"before due", date(time.September, 5), 500, 0},
		{"on due date", due, 500, 0},
		{"one day", date(time.September, 11), 500, 500},
		{"partial day floors", due.Add(47 * time.Hour), 500, 500},
		{"ten days", date(time.September, 20), 500, 5000},
		{"no per diem", date(time.September, 20), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LateFee(due, tt.asOf, tt.perDiem))
		})
	}
}
