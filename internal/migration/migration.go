// Package migration creates the ledger schema. Postgres gets the embedded SQL
// migrations including row level security; other dialects fall back to gorm
// AutoMigrate of the domain models.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every ledger table in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.School{},
		&catalogdomain.ChargeConcept{},
		&catalogdomain.PaymentPlan{},
		&catalogdomain.PaymentPlanItem{},
		&catalogdomain.StudentPlanAssignment{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceSequence{},
		&invoicedomain.InvoiceGenerationRun{},
		&paymentdomain.PaymentMethod{},
		&cashsessiondomain.CashRegister{},
		&cashsessiondomain.CashSession{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentRequest{},
		&auditdomain.AuditLog{},
	}
}

// Migrate picks the strategy for the connected dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !db.IsPostgres(conn) {
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// AutoMigrate creates the tables and unique indexes from the model tags.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	migrator, err := NewMigrator(db)
	if err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// NewMigrator binds the embedded migrations to a postgres handle.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
