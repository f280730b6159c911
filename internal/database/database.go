package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/elskow/authcore/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Manager struct {
	db     *gorm.DB
	config *config.DatabaseConfig
	logger *zap.Logger
}

// NewManager opens the configured store. The memory driver has no database
// and DB returns nil.
func NewManager(config *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		config: config,
		logger: logger,
	}
	if config.Driver == DriverMemory {
		return m, nil
	}

	db, err := Open(config)
	if err != nil {
		return nil, err
	}
	m.db = db

	logger.Info("database connected",
		zap.String("driver", config.Driver),
		zap.Int("max_open_conns", config.MaxOpenConns))
	return m, nil
}

func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SQLDB exposes the pool underneath gorm, or nil for the memory driver.
func (m *Manager) SQLDB() (*sql.DB, error) {
	if m.db == nil {
		return nil, nil
	}
	return m.db.DB()
}

func (m *Manager) Driver() string {
	return m.config.Driver
}

func (m *Manager) Close() error {
	sqlDB, err := m.SQLDB()
	if err != nil || sqlDB == nil {
		return err
	}
	return sqlDB.Close()
}

// Open connects gorm to the configured driver.
func Open(config *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverSQLite, "":
		if err := ensureSQLiteDir(config.DSN); err != nil {
			return nil, err
		}
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        SQLiteDSN(config.DSN),
		})
	case DriverPostgres:
		dialector = postgres.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogLevel(config.LogLevel),
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}

	return db, nil
}

// SQLiteDSN appends the pragmas the schema relies on: foreign keys for the
// cascading deletes and a sortable text format for timestamps.
func SQLiteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "_time_format") {
		params = append(params, "_time_format=sqlite")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// ensureSQLiteDir creates the parent directory of a file-backed database.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i:], "mode=memory") {
			return nil
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
