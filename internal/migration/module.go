package migration

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/authcore/internal/config"
	"github.com/elskow/authcore/internal/database"
)

// Module provides migration-related dependencies
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(manager *database.Manager) (*Migrator, error) {
					sqlDB, err := manager.SQLDB()
					if err != nil {
						return nil, err
					}
					if sqlDB == nil {
						return nil, nil
					}
					return NewMigratorFromDB(sqlDB, manager.Driver())
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	config *config.AppConfig,
	migrator *Migrator,
	logger *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if migrator == nil {
				logger.Info("no database configured, skipping migrations")
				return nil
			}
			if !config.Database.AutoMigrate {
				return nil
			}
			return Apply(ctx, migrator, logger)
		},
		OnStop: func(ctx context.Context) error {
			if migrator == nil {
				return nil
			}
			return migrator.Close()
		},
	})
}

// Apply brings the schema to the latest embedded version.
func Apply(ctx context.Context, migrator *Migrator, logger *zap.Logger) error {
	currentVersion, err := migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	latestVersion := migrator.LatestVersion()

	logger.Info("Database migration status",
		zap.Int64("current_version", currentVersion),
		zap.Int64("latest_version", latestVersion))

	if currentVersion > latestVersion {
		return fmt.Errorf("database schema version %d is newer than this build (%d)",
			currentVersion, latestVersion)
	}
	if currentVersion == latestVersion {
		return nil
	}

	logger.Info("Upgrading database schema",
		zap.Int64("from_version", currentVersion),
		zap.Int64("to_version", latestVersion))

	results, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	for _, r := range results {
		logger.Debug("applied migration",
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration))
	}
	return nil
}
