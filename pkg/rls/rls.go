// Package rls scopes a postgres transaction to one school so row level
// security policies on ledger tables see app.current_school_id.
package rls

import (
	"strconv"

	"github.com/smallbiznis/schoolledger/pkg/db"
	"gorm.io/gorm"
)

// WithSchool must run inside a transaction; SET LOCAL ends with it.
// Other dialects have no row level security and are left untouched.
func WithSchool(tx *gorm.DB, schoolID int64) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_school_id', ?, true)",
		strconv.FormatInt(schoolID, 10),
	).Error
}
