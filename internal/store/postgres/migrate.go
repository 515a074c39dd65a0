package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationTable is the golang-migrate bookkeeping table.
const MigrationTable = "licensed_schema_migrations"

// migrationLogger adapts slog to migrate.Logger.
type migrationLogger struct {
	logger *slog.Logger
}

func (l migrationLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l migrationLogger) Verbose() bool { return false }

func newMigrator(db *gorm.DB, logger *slog.Logger) (*migrate.Migrate, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := pgx.WithInstance(sqlDB, &pgx.Config{MigrationsTable: MigrationTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	m.Log = migrationLogger{logger: logger.With(slog.String("component", "migrate"))}
	return m, nil
}

// closeMigrator releases the dedicated connection. The pool itself stays
// open because the driver was built from an existing instance.
func closeMigrator(m *migrate.Migrate, logger *slog.Logger) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn("close migrator", slog.String("error", err.Error()))
	}
}

// MigrateUp applies every pending migration.
func MigrateUp(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	m, err := newMigrator(db, logger)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	logger.InfoContext(ctx, "postgres migrations started", slog.String("operation", "migrate_up"))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.InfoContext(ctx, "postgres schema up to date")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	logger.InfoContext(ctx, "postgres migrations completed",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty))
	return nil
}

// MigrateDown rolls back every migration.
func MigrateDown(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	m, err := newMigrator(db, logger)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	logger.InfoContext(ctx, "postgres migrations rolled back")
	return nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(db *gorm.DB, logger *slog.Logger) (uint, bool, error) {
	m, err := newMigrator(db, logger)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m, logger)
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
