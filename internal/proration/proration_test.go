package proration

import (
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(t *testing.T, raw string) period.Month {
	t.Helper()
	m, err := period.Parse(raw)
	require.NoError(t, err)
	return m
}

func plan(amount int64, proration catalogdomain.Proration) catalogdomain.PaymentPlan {
	return catalogdomain.PaymentPlan{Amount: amount, Proration: proration, Cadence: catalogdomain.CadenceMonthly, StartMonth: "2024-01"}
}

func assignment(effective string, assignedAt time.Time, override *int64) catalogdomain.StudentPlanAssignment {
	return catalogdomain.StudentPlanAssignment{EffectiveMonth: effective, AssignedAt: assignedAt, OverrideAmount: override}
}

func TestComputeCharge_None(t *testing.T) {
	a := assignment("2024-09", time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC), nil)
	got, err := ComputeCharge(plan(50000, catalogdomain.ProrationNone), a, month(t, "2024-09"))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got)
}

func TestComputeCharge_FirstPeriodFull(t *testing.T) {
	a := assignment("2024-09", time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC), nil)
	for _, m := range []string{"2024-09", "2024-10"} {
		got, err := ComputeCharge(plan(50000, catalogdomain.ProrationFirstPeriodFull), a, month(t, m))
		require.NoError(t, err)
		assert.Equal(t, int64(50000), got)
	}
}

func TestComputeCharge_ProRataDays(t *testing.T) {
	tests := []struct {
		name       string
		effective  string
		assignedAt time.Time
		period     string
		want       int64
	}{
		// September has 30 days; from the 16th there are 15 left.
		{"half month", "2024-09", time.Date(2024, 9, 16, 10, 0, 0, 0, time.UTC), "2024-09", 25000},
		{"first day bills full", "2024-09", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), "2024-09", 50000},
		{"last day", "2024-09", time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC), "2024-09", 1667},
		{"assigned before effective month", "2024-09", time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC), "2024-09", 50000},
		{"later period full", "2024-09", time.Date(2024, 9, 16, 0, 0, 0, 0, time.UTC), "2024-10", 50000},
		// Leap February: 29 days, from the 15th there are 15 left: 50000*15/29 = 25862.07
		{"leap february", "2024-02", time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), "2024-02", 25862},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := assignment(tt.effective, tt.assignedAt, nil)
			got, err := ComputeCharge(plan(50000, catalogdomain.ProrationProRataDays), a, month(t, tt.period))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeCharge_HalfUp(t *testing.T) {
	// 3 * 15 / 30 = 1.5 rounds to 2.
	a := assignment("2024-09", time.Date(2024, 9, 16, 0, 0, 0, 0, time.UTC), nil)
	got, err := ComputeCharge(plan(3, catalogdomain.ProrationProRataDays), a, month(t, "2024-09"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestComputeCharge_OverrideWins(t *testing.T) {
	override := int64(42000)
	a := assignment("2024-09", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), &override)
	got, err := ComputeCharge(plan(50000, catalogdomain.ProrationNone), a, month(t, "2024-11"))
	require.NoError(t, err)
	assert.Equal(t, int64(42000), got)
}

func TestComputeCharge_Errors(t *testing.T) {
	a := assignment("2024-09", time.Now(), nil)
	_, err := ComputeCharge(plan(0, catalogdomain.ProrationNone), a, month(t, "2024-09"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ComputeCharge(plan(100, catalogdomain.ProrationNone), a, month(t, "2024-08"))
	assert.ErrorIs(t, err, ErrPeriodBeforeStart)

	_, err = ComputeCharge(plan(100, "weekly-ish"), a, month(t, "2024-09"))
	assert.ErrorIs(t, err, ErrUnsupportedProration)

	_, err = ComputeCharge(plan(100, catalogdomain.ProrationNone), assignment("2024-9", time.Now(), nil), month(t, "2024-09"))
	assert.ErrorIs(t, err, period.ErrInvalidMonth)
}

func TestComputeCharge_LifetimeSum(t *testing.T) {
	const base = int64(50000)
	effective := month(t, "2024-09")
	a := assignment("2024-09", time.Date(2024, 9, 11, 0, 0, 0, 0, time.UTC), nil)

	var sum int64
	months := period.Range(effective, effective.AddMonths(9))
	for _, m := range months {
		got, err := ComputeCharge(plan(base, catalogdomain.ProrationProRataDays), a, m)
		require.NoError(t, err)
		sum += got
	}
	first := prorate(base, 20, 30)
	assert.Equal(t, base*int64(len(months)-1)+first, sum)
}

func TestSplitAmount(t *testing.T) {
	shares, err := SplitAmount(25000, []int64{40000, 10000})
	require.NoError(t, err)
	assert.Equal(t, []int64{20000, 5000}, shares)

	shares, err = SplitAmount(100, []int64{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{34, 33, 33}, shares)

	// Every share rounds up; the first line absorbs the negative residual.
	shares, err = SplitAmount(3, []int64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, shares)

	shares, err = SplitAmount(1667, []int64{3, 7})
	require.NoError(t, err)
	var sum int64
	for _, s := range shares {
		sum += s
	}
	assert.Equal(t, int64(1667), sum)

	_, err = SplitAmount(10, []int64{0, 0})
	assert.ErrorIs(t, err, ErrInvalidWeights)
	_, err = SplitAmount(10, []int64{-1, 2})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	shares, err = SplitAmount(10, nil)
	require.NoError(t, err)
	assert.Nil(t, shares)
}
