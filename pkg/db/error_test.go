package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: cash_sessions.school_id, cash_sessions.open_marker")))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestIsTransientErr(t *testing.T) {
	assert.True(t, IsTransientErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransientErr(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsTransientErr(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsTransientErr(errors.New("database is locked")))
	assert.False(t, IsTransientErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransientErr(errors.New("invalid month")))
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: 1}, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid month")
	err := WithRetry(context.Background(), RetryPolicy{Attempts: 5, BaseDelay: 1}, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryPolicy{Attempts: 2, BaseDelay: 1}, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "55P03"}
	})
	assert.True(t, IsTransientErr(err))
	assert.Equal(t, 2, calls)
}
