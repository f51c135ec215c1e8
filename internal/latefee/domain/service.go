// Package domain describes the late fee sweep.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Result counts the invoices looked at and the ones whose fee changed.
type Result struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

type Service interface {
	// Accrue recomputes late_fee_accrued of every open or partial invoice of
	// the school that is past due as of asOf. Repeating it is harmless.
	Accrue(ctx context.Context, schoolID snowflake.ID, asOf time.Time) (Result, error)
}

var (
	ErrInvalidSchool = errors.New("invalid_school")
	ErrInvalidAsOf   = errors.New("invalid_as_of")
)
