package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/authcore/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig) *CookieManager {
					return NewCookieManager(config.HTTP)
				},
			),
			NewHandler,
			NewEcho,
		),
		fx.Invoke(registerHooks),
	)
}

// NewEcho builds the HTTP server with request logging and the auth routes.
func NewEcho(handler *Handler, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	handler.Routes(e)
	return e
}

func registerHooks(
	lifecycle fx.Lifecycle,
	config *config.AppConfig,
	e *echo.Echo,
	log *zap.Logger,
) {
	if !config.HTTP.Enabled {
		return
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting HTTP server", zap.String("address", config.HTTP.Address))
			go func() {
				if err := e.Start(config.HTTP.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("failed to start HTTP server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down HTTP server...")
			return e.Shutdown(ctx)
		},
	})
}
