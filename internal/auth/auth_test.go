package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/authcore/internal/config"
	"github.com/elskow/authcore/internal/database"
	"github.com/elskow/authcore/internal/migration"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	require.NoError(t, err)
	return logger
}

func newTestConfig() *config.AuthConfig {
	return &config.AuthConfig{
		BcryptCost:          bcrypt.MinCost,
		TokenBytes:          DefaultTokenBytes,
		SessionDuration:     24 * time.Hour,
		AutoLoginOnRegister: true,
		MaxFailedLogins:     5,
		LockoutDuration:     15 * time.Minute,
		MinPasswordLength:   6,
	}
}

// fakeClock is a settable time source shared by a service and its test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) *Service {
	return newTestServiceWithRepo(t, NewMemoryRepository())
}

func newTestServiceWithRepo(t *testing.T, repo Repository, opts ...Option) *Service {
	return NewService(
		newTestConfig(),
		newTestLogger(t),
		repo,
		opts...,
	)
}

func newTestHandler(t *testing.T) *Handler {
	return NewHandler(newTestService(t), newTestLogger(t))
}

// newGormRepository returns a repository over a private in-memory SQLite
// database migrated with the embedded schema.
func newGormRepository(t *testing.T) Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(&config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	migrator, err := migration.NewMigratorFromDB(sqlDB, database.DriverSQLite)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background())
	require.NoError(t, err)

	return NewRepository(db)
}

// repositoryFactories lists every store so behavioural tests run against
// both of them.
func repositoryFactories() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory": func(*testing.T) Repository { return NewMemoryRepository() },
		"gorm":   newGormRepository,
	}
}

func mustRegister(t *testing.T, svc *Service, email, password, username string) *RegisterResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: password,
		Username: username,
	})
	require.NoError(t, err)
	return res
}
