package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/lib/pq"
	"github.com/smallbiznis/schoolledger/internal/config"
	"github.com/smallbiznis/schoolledger/internal/migration"
	"github.com/smallbiznis/schoolledger/pkg/db"
	"go.uber.org/zap"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if cfg.DBType != db.TypePostgres {
		log.Fatal("standalone migrations need a postgres database", zap.String("type", cfg.DBType))
	}

	conn, err := sql.Open("postgres", db.PostgresDSN(cfg))
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	migrator, err := migration.NewMigrator(conn)
	if err != nil {
		log.Fatal("create migrator", zap.Error(err))
	}

	if err := run(migrator, args); err != nil {
		log.Fatal("migration failed", zap.String("command", args[0]), zap.Error(err))
	}

	version, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("no migrations applied")
	case err != nil:
		log.Fatal("read version", zap.Error(err))
	default:
		log.Info("migration finished", zap.String("command", args[0]), zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
}

func run(m *migrate.Migrate, args []string) error {
	var err error
	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		err = m.Steps(-steps)
	case "force":
		if len(args) < 2 {
			return errors.New("force needs a version")
		}
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		err = m.Force(version)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: migrate <command> [args]

commands:
  up            apply all pending migrations
  down [n]      roll back n migrations (default 1)
  force <v>     set the version without running migrations
  version       print the current version`)
}
