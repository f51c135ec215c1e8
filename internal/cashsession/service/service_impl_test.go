package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	"github.com/smallbiznis/schoolledger/internal/cashsession/repository"
	"github.com/smallbiznis/schoolledger/internal/clock"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/schoolledger/internal/payment/repository"
	"github.com/smallbiznis/schoolledger/internal/providers/pdf"
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

func (m *mockTenantSvc) Get(ctx context.Context, id snowflake.ID) (*tenantdomain.School, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*tenantdomain.School), args.Error(1)
}

func (m *mockTenantSvc) Settings(ctx context.Context, id snowflake.ID) (tenantdomain.Settings, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(tenantdomain.Settings), args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	svc     domain.Service
	methods map[string]paymentdomain.PaymentMethod
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.CashRegister{},
		&domain.CashSession{},
		&paymentdomain.PaymentMethod{},
		&paymentdomain.Payment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tenantSvc := &mockTenantSvc{}
	tenantSvc.On("Get", mock.Anything, schoolID).
		Return(&tenantdomain.School{ID: schoolID, Name: "Colegio Azteca"}, nil)
	tenantSvc.On("Settings", mock.Anything, schoolID).
		Return(tenantdomain.Settings{SchoolID: schoolID, Currency: "MXN"}, nil)

	fc := clock.NewFakeClock(time.Date(2024, time.September, 20, 8, 0, 0, 0, time.UTC))
	f := &fixture{
		db:      db,
		node:    node,
		clock:   fc,
		methods: map[string]paymentdomain.PaymentMethod{},
		svc: New(Params{
			DB:          db,
			Log:         zap.NewNop(),
			GenID:       node,
			Clock:       fc,
			Repo:        repository.Provide(),
			PaymentRepo: paymentrepo.Provide(),
			TenantSvc:   tenantSvc,
			PDF:         pdf.New(),
		}),
	}
	for _, code := range []string{"CASH", "CARD"} {
		method := paymentdomain.PaymentMethod{
			ID:        node.Generate(),
			SchoolID:  schoolID,
			Code:      code,
			Name:      code,
			IsActive:  true,
			CreatedAt: fc.Now(),
		}
		require.NoError(t, db.Create(&method).Error)
		f.methods[code] = method
	}
	return f
}

func (f *fixture) register(t *testing.T, name string) *domain.CashRegister {
	t.Helper()
	register, err := f.svc.UpsertRegister(context.Background(), schoolID, domain.UpsertRegisterRequest{Name: name})
	require.NoError(t, err)
	return register
}

func (f *fixture) pay(t *testing.T, sessionID snowflake.ID, code string, amount int64) {
	t.Helper()
	payment := paymentdomain.Payment{
		ID:              f.node.Generate(),
		SchoolID:        schoolID,
		InvoiceID:       f.node.Generate(),
		PaymentMethodID: f.methods[code].ID,
		Amount:          amount,
		Currency:        "MXN",
		PaidAt:          f.clock.Now(),
		CashierUserID:   "cashier-1",
		SessionID:       &sessionID,
		CreatedAt:       f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&payment).Error)
}

func TestOpen_OneOpenSessionPerRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := f.register(t, "Caja 1")

	session, err := f.svc.Open(ctx, schoolID, register.ID, "cashier-1")
	require.NoError(t, err)
	assert.True(t, session.IsOpen())

	_, err = f.svc.Open(ctx, schoolID, register.ID, "cashier-2")
	require.ErrorIs(t, err, domain.ErrSessionConflict)
	var conflict *domain.SessionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, register.ID, conflict.RegisterID)

	other := f.register(t, "Caja 2")
	_, err = f.svc.Open(ctx, schoolID, other.ID, "cashier-2")
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, schoolID, session.ID, "cashier-1")
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, schoolID, register.ID, "cashier-3")
	assert.NoError(t, err)
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := f.register(t, "Caja 1")

	_, err := f.svc.Open(ctx, schoolID, register.ID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidActor)
	_, err = f.svc.Open(ctx, schoolID, 999, "cashier-1")
	assert.ErrorIs(t, err, domain.ErrRegisterNotFound)

	inactive := false
	_, err = f.svc.UpsertRegister(ctx, schoolID, domain.UpsertRegisterRequest{ID: register.ID, Name: "Caja 1", IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, schoolID, register.ID, "cashier-1")
	assert.ErrorIs(t, err, domain.ErrRegisterInactive)
}

func TestClose_SnapshotsTotalsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := f.register(t, "Caja 1")
	session, err := f.svc.Open(ctx, schoolID, register.ID, "cashier-1")
	require.NoError(t, err)

	f.pay(t, session.ID, "CASH", 55000)
	f.pay(t, session.ID, "CASH", 10000)
	f.pay(t, session.ID, "CARD", 30000)

	x, err := f.svc.XReport(ctx, schoolID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportKindX, x.Kind)
	assert.Equal(t, int64(95000), x.Totals.GrandTotal)

	_, err = f.svc.ZReport(ctx, schoolID, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionOpen)

	f.clock.Advance(8 * time.Hour)
	closed, err := f.svc.Close(ctx, schoolID, session.ID, "supervisor")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Nil(t, closed.OpenMarker)

	totals := closed.Totals.Data()
	assert.Equal(t, 3, totals.Count)
	assert.Equal(t, int64(95000), totals.GrandTotal)
	require.Len(t, totals.ByMethod, 2)
	assert.Equal(t, "CARD", totals.ByMethod[0].Code)
	assert.Equal(t, int64(30000), totals.ByMethod[0].Amount)
	assert.Equal(t, "CASH", totals.ByMethod[1].Code)
	assert.Equal(t, 2, totals.ByMethod[1].Count)
	assert.Equal(t, int64(65000), totals.ByMethod[1].Amount)

	_, err = f.svc.Close(ctx, schoolID, session.ID, "supervisor")
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
	var closedErr *domain.AlreadyClosedError
	require.ErrorAs(t, err, &closedErr)
	assert.Equal(t, session.ID, closedErr.SessionID)

	_, err = f.svc.XReport(ctx, schoolID, session.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	// a late write does not move the stored snapshot
	f.pay(t, session.ID, "CASH", 1)
	z, err := f.svc.ZReport(ctx, schoolID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportKindZ, z.Kind)
	assert.Equal(t, int64(95000), z.Totals.GrandTotal)
	assert.Equal(t, "Caja 1", z.Register.Name)
}

func TestClose_EmptySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := f.register(t, "Caja 1")
	session, err := f.svc.Open(ctx, schoolID, register.ID, "cashier-1")
	require.NoError(t, err)

	closed, err := f.svc.Close(ctx, schoolID, session.ID, "cashier-1")
	require.NoError(t, err)
	totals := closed.Totals.Data()
	assert.Equal(t, 0, totals.Count)
	assert.Equal(t, int64(0), totals.GrandTotal)
	assert.Empty(t, totals.ByMethod)

	_, err = f.svc.Close(ctx, schoolID, 999, "cashier-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessions_ScopedToSchool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	foreignRegister, err := f.svc.UpsertRegister(ctx, otherSchoolID, domain.UpsertRegisterRequest{Name: "Caja B"})
	require.NoError(t, err)
	foreign, err := f.svc.Open(ctx, otherSchoolID, foreignRegister.ID, "cashier-b")
	require.NoError(t, err)

	_, err = f.svc.GetSession(ctx, schoolID, foreign.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.XReport(ctx, schoolID, foreign.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.ZReport(ctx, schoolID, foreign.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.Close(ctx, schoolID, foreign.ID, "supervisor")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.svc.Open(ctx, schoolID, foreignRegister.ID, "cashier-1")
	assert.ErrorIs(t, err, domain.ErrRegisterNotFound)
	_, err = f.svc.UpsertRegister(ctx, schoolID, domain.UpsertRegisterRequest{ID: foreignRegister.ID, Name: "Taken over"})
	assert.ErrorIs(t, err, domain.ErrRegisterNotFound)

	registers, err := f.svc.ListRegisters(ctx, schoolID)
	require.NoError(t, err)
	assert.Empty(t, registers)
	sessions, err := f.svc.ListSessions(ctx, schoolID, domain.ListSessionsRequest{})
	require.NoError(t, err)
	assert.Empty(t, sessions)

	got, err := f.svc.GetSession(ctx, otherSchoolID, foreign.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	stored, err := f.svc.ListRegisters(ctx, otherSchoolID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Caja B", stored[0].Name)
}

func TestListSessions_OpenOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.register(t, "Caja 1")
	second := f.register(t, "Caja 2")

	s1, err := f.svc.Open(ctx, schoolID, first.ID, "cashier-1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Open(ctx, schoolID, second.ID, "cashier-2")
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, schoolID, s1.ID, "cashier-1")
	require.NoError(t, err)

	all, err := f.svc.ListSessions(ctx, schoolID, domain.ListSessionsRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := f.svc.ListSessions(ctx, schoolID, domain.ListSessionsRequest{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].CashRegisterID)

	registers, err := f.svc.ListRegisters(ctx, schoolID)
	require.NoError(t, err)
	assert.Len(t, registers, 2)
}

func TestRenderZReportPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := f.register(t, "Caja 1")
	session, err := f.svc.Open(ctx, schoolID, register.ID, "cashier-1")
	require.NoError(t, err)
	f.pay(t, session.ID, "CASH", 55000)

	_, err = f.svc.RenderZReportPDF(ctx, schoolID, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionOpen)

	_, err = f.svc.Close(ctx, schoolID, session.ID, "cashier-1")
	require.NoError(t, err)

	reader, err := f.svc.RenderZReportPDF(ctx, schoolID, session.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body[:4]))
}
