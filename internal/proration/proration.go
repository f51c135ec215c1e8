// Package proration computes what a student owes for one billing period of a
// payment plan. Everything here is pure and uses decimal arithmetic.
package proration

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
)

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrPeriodBeforeStart    = errors.New("period_before_effective_month")
	ErrUnsupportedProration = errors.New("unsupported_proration")
	ErrInvalidWeights       = errors.New("invalid_weights")
)

// BaseAmount is the assignment override when present, else the plan amount.
func BaseAmount(plan catalogdomain.PaymentPlan, assignment catalogdomain.StudentPlanAssignment) int64 {
	if assignment.OverrideAmount != nil {
		return *assignment.OverrideAmount
	}
	return plan.Amount
}

// ComputeCharge returns the amount billed for p.
//
// none and first-period-full bill the base every period. pro-rata-days bills
// the effective month by the days remaining from the assignment day, and the
// full base afterwards.
func ComputeCharge(plan catalogdomain.PaymentPlan, assignment catalogdomain.StudentPlanAssignment, p period.Month) (int64, error) {
	base := BaseAmount(plan, assignment)
	if base <= 0 {
		return 0, ErrInvalidAmount
	}

	effective, err := period.Parse(assignment.EffectiveMonth)
	if err != nil {
		return 0, err
	}
	if p.Before(effective) {
		return 0, fmt.Errorf("%w: %s < %s", ErrPeriodBeforeStart, p, effective)
	}

	switch plan.Proration {
	case catalogdomain.ProrationNone, catalogdomain.ProrationFirstPeriodFull, "":
		return base, nil
	case catalogdomain.ProrationProRataDays:
		if p.Compare(effective) != 0 {
			return base, nil
		}
		total := effective.Days()
		start := 1
		if assigned := assignment.AssignedAt.UTC(); effective.Contains(assigned) {
			start = assigned.Day()
		}
		remaining := total - start + 1
		return prorate(base, remaining, total), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedProration, plan.Proration)
	}
}

// prorate is round_half_up(base * part / whole).
func prorate(base int64, part, whole int) int64 {
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(int64(part))).
		DivRound(decimal.NewFromInt(int64(whole)), 0).
		IntPart()
}

// SplitAmount distributes total across weights proportionally, rounding each
// share half up. The residual left by rounding goes to the first line so the
// shares always sum to total.
func SplitAmount(total int64, weights []int64) ([]int64, error) {
	if len(weights) == 0 {
		return nil, nil
	}

	var sum int64
	for _, w := range weights {
		if w < 0 {
			return nil, ErrInvalidWeights
		}
		sum += w
	}
	if sum == 0 {
		return nil, ErrInvalidWeights
	}

	totalDec := decimal.NewFromInt(total)
	sumDec := decimal.NewFromInt(sum)
	shares := make([]int64, len(weights))
	var allocated int64
	for i, w := range weights {
		shares[i] = totalDec.Mul(decimal.NewFromInt(w)).DivRound(sumDec, 0).IntPart()
		allocated += shares[i]
	}
	shares[0] += total - allocated
	return shares, nil
}
