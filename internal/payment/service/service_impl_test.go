package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	cashsessionrepo "github.com/smallbiznis/schoolledger/internal/cashsession/repository"
	cashsessionservice "github.com/smallbiznis/schoolledger/internal/cashsession/service"
	"github.com/smallbiznis/schoolledger/internal/clock"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/schoolledger/internal/invoice/repository"
	"github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	schoolID      = snowflake.ID(100)
	otherSchoolID = snowflake.ID(200)
	studentID     = snowflake.ID(7)
	cashier       = "cashier-1"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	svc    domain.Service
	method *domain.PaymentMethod
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&domain.PaymentMethod{},
		&domain.Payment{},
		&domain.PaymentRequest{},
		&cashsessiondomain.CashRegister{},
		&cashsessiondomain.CashSession{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2024, time.September, 20, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fc,
		Repo:        repository.Provide(),
		InvoiceRepo: invoicerepo.Provide(),
		SessionRepo: cashsessionrepo.Provide(),
	})

	method, err := svc.UpsertMethod(context.Background(), schoolID, domain.UpsertMethodRequest{Code: "cash", Name: "Efectivo"})
	require.NoError(t, err)

	return &fixture{db: db, node: node, clock: fc, svc: svc, method: method}
}

func (f *fixture) invoice(t *testing.T, due time.Time, subtotal int64, month int) invoicedomain.Invoice {
	t.Helper()
	return f.invoiceFor(t, schoolID, due, subtotal, month)
}

func (f *fixture) invoiceFor(t *testing.T, school snowflake.ID, due time.Time, subtotal int64, month int) invoicedomain.Invoice {
	t.Helper()
	now := f.clock.Now()
	invoice := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		SchoolID:        school,
		StudentID:       studentID,
		ChargeConceptID: 1,
		PeriodMonth:     month,
		PeriodYear:      2024,
		PlanID:          1,
		AssignmentID:    1,
		Currency:        "MXN",
		DueDate:         due,
		Subtotal:        subtotal,
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

func (f *fixture) countPayments(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&domain.Payment{}).Count(&count).Error)
	return count
}

// openSession inserts an open session on a register of school.
func (f *fixture) openSession(t *testing.T, school snowflake.ID) cashsessiondomain.CashSession {
	t.Helper()
	now := f.clock.Now()
	register := cashsessiondomain.CashRegister{
		ID:        f.node.Generate(),
		SchoolID:  school,
		Name:      "Caja 1",
		IsActive:  true,
		CreatedAt: now,
	}
	require.NoError(t, f.db.Create(&register).Error)
	registerID := register.ID
	session := cashsessiondomain.CashSession{
		ID:             f.node.Generate(),
		SchoolID:       school,
		CashRegisterID: registerID,
		OpenedBy:       cashier,
		OpenedAt:       now.Add(-time.Hour),
		OpenMarker:     &registerID,
		CreatedAt:      now,
	}
	require.NoError(t, f.db.Create(&session).Error)
	return session
}

func (f *fixture) sessions() cashsessiondomain.Service {
	return cashsessionservice.New(cashsessionservice.Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		GenID:       f.node,
		Clock:       f.clock,
		Repo:        cashsessionrepo.Provide(),
		PaymentRepo: repository.Provide(),
	})
}

// afterQuery runs fn once, right after the first query on table whose SQL
// contains fragment.
func (f *fixture) afterQuery(t *testing.T, name, table, fragment string, fn func(tx *gorm.DB)) {
	t.Helper()
	fired := false
	err := f.db.Callback().Query().After("gorm:query").Register(name, func(tx *gorm.DB) {
		if fired || tx.Statement.Table != table || !strings.Contains(tx.Statement.SQL.String(), fragment) {
			return
		}
		fired = true
		fn(tx)
	})
	require.NoError(t, err)
}

func date(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func TestApply_InvoiceFullPayment(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	result, err := f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        55000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(55000), result.Payments[0].Amount)
	assert.Equal(t, "MXN", result.Payments[0].Currency)

	got := f.reload(t, inv.ID)
	assert.Equal(t, int64(55000), got.PaidTotal)
	assert.Equal(t, int64(0), got.Balance)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)

	_, err = f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        100,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
	})
	assert.ErrorIs(t, err, domain.ErrNothingOutstanding)
}

func TestApply_StudentAllocatesOldestFirst(t *testing.T) {
	f := newFixture(t)
	older := f.invoice(t, date(time.September, 10), 30000, 9)
	newer := f.invoice(t, date(time.October, 10), 20000, 10)

	result, err := f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		StudentID:     studentID,
		Amount:        40000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 2)
	assert.Equal(t, older.ID, result.Payments[0].InvoiceID)
	assert.Equal(t, int64(30000), result.Payments[0].Amount)
	assert.Equal(t, newer.ID, result.Payments[1].InvoiceID)
	assert.Equal(t, int64(10000), result.Payments[1].Amount)

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.reload(t, older.ID).Status)
	got := f.reload(t, newer.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, got.Status)
	assert.Equal(t, int64(10000), got.Balance)
}

func TestApply_OverpaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	_, err := f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        60000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
	})
	require.ErrorIs(t, err, domain.ErrOverpayment)
	var overErr *domain.OverpaymentError
	require.ErrorAs(t, err, &overErr)
	assert.Equal(t, int64(55000), overErr.Outstanding)

	got := f.reload(t, inv.ID)
	assert.Equal(t, int64(0), got.PaidTotal)
	assert.Equal(t, int64(0), f.countPayments(t))

	_, err = f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		StudentID:     studentID,
		Amount:        55001,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
		AllowCredit:   true,
	})
	assert.ErrorIs(t, err, domain.ErrOverpayment)
}

func TestApply_AllowCreditCapsAtBalance(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	result, err := f.svc.Apply(context.Background(), domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        60000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
		AllowCredit:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.Unapplied)
	require.Len(t, result.Payments, 1)
	assert.Equal(t, int64(55000), result.Payments[0].Amount)

	got := f.reload(t, inv.ID)
	assert.Equal(t, got.Total+got.LateFeeAccrued, got.PaidTotal)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)
}

func TestApply_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	req := domain.ApplyRequest{
		SchoolID:       schoolID,
		InvoiceID:      inv.ID,
		Amount:         20000,
		MethodID:       f.method.ID,
		CashierUserID:  cashier,
		IdempotencyKey: "receipt-0001",
	}
	first, err := f.svc.Apply(context.Background(), req)
	require.NoError(t, err)

	second, err := f.svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	require.Len(t, second.Payments, 1)
	assert.Equal(t, first.Payments[0].ID, second.Payments[0].ID)

	assert.Equal(t, int64(1), f.countPayments(t))
	assert.Equal(t, int64(20000), f.reload(t, inv.ID).PaidTotal)
}

func TestApply_RejectsClosedSessionAndInactiveMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	closedAt := f.clock.Now()
	session := cashsessiondomain.CashSession{
		ID:             f.node.Generate(),
		SchoolID:       schoolID,
		CashRegisterID: 1,
		OpenedBy:       cashier,
		OpenedAt:       closedAt.Add(-time.Hour),
		ClosedAt:       &closedAt,
		CreatedAt:      closedAt,
	}
	require.NoError(t, f.db.Create(&session).Error)

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        1000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
		SessionID:     &session.ID,
	})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	inactive := false
	_, err = f.svc.UpsertMethod(ctx, schoolID, domain.UpsertMethodRequest{ID: f.method.ID, Code: "CASH", IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        1000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
	})
	assert.ErrorIs(t, err, domain.ErrMethodInactive)
	assert.Equal(t, int64(0), f.countPayments(t))
}

func TestApply_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  domain.ApplyRequest
		want error
	}{
		{"missing school", domain.ApplyRequest{Amount: 1, InvoiceID: 1, MethodID: 1, CashierUserID: cashier}, domain.ErrInvalidSchool},
		{"zero amount", domain.ApplyRequest{SchoolID: schoolID, InvoiceID: 1, MethodID: 1, CashierUserID: cashier}, domain.ErrInvalidAmount},
		{"both targets", domain.ApplyRequest{SchoolID: schoolID, Amount: 1, InvoiceID: 1, StudentID: 2, MethodID: 1, CashierUserID: cashier}, domain.ErrInvalidTarget},
		{"no cashier", domain.ApplyRequest{SchoolID: schoolID, Amount: 1, InvoiceID: 1, MethodID: 1}, domain.ErrInvalidCashier},
		{"unknown invoice", domain.ApplyRequest{SchoolID: schoolID, Amount: 1, InvoiceID: 999, MethodID: f.method.ID, CashierUserID: cashier}, domain.ErrInvoiceNotFound},
		{"unknown method", domain.ApplyRequest{SchoolID: schoolID, Amount: 1, InvoiceID: 1, MethodID: 999, CashierUserID: cashier}, domain.ErrMethodNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Apply(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestListPayments_ByStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, date(time.September, 10), 55000, 9)

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID:      schoolID,
		InvoiceID:     inv.ID,
		Amount:        5000,
		MethodID:      f.method.ID,
		CashierUserID: cashier,
		Ref:           " folio 12 ",
	})
	require.NoError(t, err)

	payments, err := f.svc.ListPayments(ctx, schoolID, domain.ListPaymentsRequest{StudentID: studentID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.NotNil(t, payments[0].Ref)
	assert.Equal(t, "folio 12", *payments[0].Ref)

	payments, err = f.svc.ListPayments(ctx, schoolID, domain.ListPaymentsRequest{StudentID: 8})
	require.NoError(t, err)
	assert.Empty(t, payments)

	_, err = f.svc.UpsertMethod(ctx, schoolID, domain.UpsertMethodRequest{Code: "CASH"})
	assert.ErrorIs(t, err, domain.ErrMethodCodeTaken)
}

func TestApply_StudentModeDuplicateKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.invoice(t, date(time.September, 10), 20000, 9)
	second := f.invoice(t, date(time.October, 10), 20000, 10)

	req := domain.ApplyRequest{
		SchoolID:       schoolID,
		StudentID:      studentID,
		Amount:         20000,
		MethodID:       f.method.ID,
		CashierUserID:  cashier,
		IdempotencyKey: "K1",
	}

	// The duplicate commits after the outer request found no payments under
	// the key and before it opens its transaction.
	var (
		inner    *domain.ApplyResult
		innerErr error
	)
	f.afterQuery(t, "test:duplicate_apply", "payments", "idempotency_key", func(*gorm.DB) {
		inner, innerErr = f.svc.Apply(ctx, req)
	})

	outer, err := f.svc.Apply(ctx, req)
	require.NoError(t, err)
	require.NoError(t, innerErr)
	require.NotNil(t, inner)
	assert.False(t, inner.Replayed)
	assert.True(t, outer.Replayed)
	require.Len(t, outer.Payments, 1)
	assert.Equal(t, inner.Payments[0].ID, outer.Payments[0].ID)

	var total int64
	require.NoError(t, f.db.Model(&domain.Payment{}).
		Where("idempotency_key = ?", "K1").
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error)
	assert.Equal(t, int64(20000), total)
	assert.Equal(t, int64(1), f.countPayments(t))
	assert.Equal(t, int64(20000), f.reload(t, first.ID).PaidTotal)
	assert.Equal(t, int64(0), f.reload(t, second.ID).PaidTotal)
}

func TestApply_SameKeyAcrossSchoolsIsIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.invoice(t, date(time.September, 10), 20000, 9)
	other, err := f.svc.UpsertMethod(ctx, otherSchoolID, domain.UpsertMethodRequest{Code: "cash"})
	require.NoError(t, err)
	foreign := f.invoiceFor(t, otherSchoolID, date(time.September, 10), 20000, 9)

	_, err = f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: own.ID, Amount: 5000, MethodID: f.method.ID, CashierUserID: cashier, IdempotencyKey: "K1",
	})
	require.NoError(t, err)
	result, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: otherSchoolID, InvoiceID: foreign.ID, Amount: 7000, MethodID: other.ID, CashierUserID: cashier, IdempotencyKey: "K1",
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(7000), f.reload(t, foreign.ID).PaidTotal)
}

func TestApply_ReadsSessionUnderLockInTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, date(time.September, 10), 55000, 9)
	session := f.openSession(t, schoolID)

	var locked, inTx bool
	f.afterQuery(t, "test:session_lock", "cash_sessions", "", func(tx *gorm.DB) {
		_, locked = tx.Statement.Clauses["FOR"]
		_, inTx = tx.Statement.ConnPool.(gorm.TxCommitter)
	})

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: inv.ID, Amount: 15000, MethodID: f.method.ID, CashierUserID: cashier, SessionID: &session.ID,
	})
	require.NoError(t, err)
	assert.True(t, inTx, "session must be read inside the payment transaction")
	assert.True(t, locked, "session must be read with a row lock")

	closed, err := f.sessions().Close(ctx, schoolID, session.ID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), closed.Totals.Data().GrandTotal)
	assert.Equal(t, 1, closed.Totals.Data().Count)

	_, err = f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: inv.ID, Amount: 1000, MethodID: f.method.ID, CashierUserID: cashier, SessionID: &session.ID,
	})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Equal(t, int64(1), f.countPayments(t))
}

func TestApply_SessionClosedMidRequestIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, date(time.September, 10), 55000, 9)
	session := f.openSession(t, schoolID)
	sessions := f.sessions()

	var closeErr error
	f.afterQuery(t, "test:close_session", "payment_methods", "", func(*gorm.DB) {
		_, closeErr = sessions.Close(ctx, schoolID, session.ID, "supervisor")
	})

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: inv.ID, Amount: 15000, MethodID: f.method.ID, CashierUserID: cashier, SessionID: &session.ID,
	})
	require.NoError(t, closeErr)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	payments, err := f.svc.ListPayments(ctx, schoolID, domain.ListPaymentsRequest{SessionID: session.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)

	report, err := sessions.ZReport(ctx, schoolID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Totals.Count)
	assert.Equal(t, int64(0), f.reload(t, inv.ID).PaidTotal)
}

func TestApply_CannotReachOtherSchool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := f.invoiceFor(t, otherSchoolID, date(time.September, 10), 55000, 9)
	foreignSession := f.openSession(t, otherSchoolID)
	own := f.invoice(t, date(time.September, 10), 55000, 9)

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: foreign.ID, Amount: 1000, MethodID: f.method.ID, CashierUserID: cashier,
	})
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	_, err = f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, InvoiceID: own.ID, Amount: 1000, MethodID: f.method.ID, CashierUserID: cashier, SessionID: &foreignSession.ID,
	})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// student mode only sees the scoped school's invoices
	result, err := f.svc.Apply(ctx, domain.ApplyRequest{
		SchoolID: schoolID, StudentID: studentID, Amount: 55000, MethodID: f.method.ID, CashierUserID: cashier,
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	assert.Equal(t, own.ID, result.Payments[0].InvoiceID)

	got := f.reload(t, foreign.ID)
	assert.Equal(t, int64(0), got.PaidTotal)
	assert.Equal(t, int64(55000), got.Balance)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, got.Status)

	payments, err := f.svc.ListPayments(ctx, otherSchoolID, domain.ListPaymentsRequest{})
	require.NoError(t, err)
	assert.Empty(t, payments)
}
