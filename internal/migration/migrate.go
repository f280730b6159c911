package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/elskow/authcore/internal/config"
	"github.com/elskow/authcore/internal/database"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrations embed.FS

type Migrator struct {
	db       *sql.DB
	provider *goose.Provider
	ownsDB   bool
}

// NewMigrator opens its own connection to the configured database.
func NewMigrator(config *config.DatabaseConfig) (*Migrator, error) {
	var (
		driverName string
		dsn        = config.DSN
	)
	switch config.Driver {
	case database.DriverSQLite, "":
		driverName = "sqlite"
		dsn = database.SQLiteDSN(config.DSN)
	case database.DriverPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("migrations are not supported for driver %q", config.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m, err := NewMigratorFromDB(db, config.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// NewMigratorFromDB runs migrations over an existing pool. Close leaves the
// pool open.
func NewMigratorFromDB(db *sql.DB, driver string) (*Migrator, error) {
	dialect, dir, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations directory: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	return &Migrator{
		db:       db,
		provider: provider,
	}, nil
}

func dialectFor(driver string) (goose.Dialect, string, error) {
	switch driver {
	case database.DriverSQLite, "":
		return goose.DialectSQLite3, "sql/sqlite", nil
	case database.DriverPostgres:
		return goose.DialectPostgres, "sql/postgres", nil
	default:
		return "", "", fmt.Errorf("migrations are not supported for driver %q", driver)
	}
}

func (m *Migrator) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("failed to run migrations: %w", err)
	}
	return results, nil
}

func (m *Migrator) Down(ctx context.Context) (*goose.MigrationResult, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return result, nil
}

// DownTo migrates the database down to a specific version
func (m *Migrator) DownTo(ctx context.Context, version int64) ([]*goose.MigrationResult, error) {
	results, err := m.provider.DownTo(ctx, version)
	if err != nil {
		return results, fmt.Errorf("failed to migrate down to version %d: %w", version, err)
	}
	return results, nil
}

func (m *Migrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	return statuses, nil
}

// Version returns the current migration version
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

// LatestVersion returns the latest available migration version
func (m *Migrator) LatestVersion() int64 {
	sources := m.provider.ListSources()
	if len(sources) == 0 {
		return 0
	}
	return sources[len(sources)-1].Version
}

func (m *Migrator) Reset(ctx context.Context) error {
	if _, err := m.DownTo(ctx, 0); err != nil {
		return err
	}
	_, err := m.Up(ctx)
	return err
}

// Close releases the connection when the migrator opened it. The goose
// provider closes the pool it was given, so a shared pool is left alone.
func (m *Migrator) Close() error {
	if !m.ownsDB {
		return nil
	}
	return m.provider.Close()
}
