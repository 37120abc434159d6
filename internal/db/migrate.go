package db

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/order/*.sql
var orderMigrationsFS embed.FS

//go:embed migrations/catalog/*.sql
var catalogMigrationsFS embed.FS

// RunOrderMigrations applies pending migrations for the order database.
func RunOrderMigrations(dsn string, logger *zap.Logger) error {
	return runMigrations(orderMigrationsFS, "migrations/order", dsn, logger)
}

// RunCatalogMigrations applies pending migrations for the catalog database.
func RunCatalogMigrations(dsn string, logger *zap.Logger) error {
	return runMigrations(catalogMigrationsFS, "migrations/catalog", dsn, logger)
}

// runMigrations applies all pending migrations from an embedded directory.
// A separate connection is opened just for the migration run.
func runMigrations(fs embed.FS, dir, dsn string, logger *zap.Logger) error {
	db, err := openDB(dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
