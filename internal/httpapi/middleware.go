package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/elskow/authcore/internal/auth"
)

const (
	contextKeyAuth  = "auth"
	contextKeyToken = "session_token"
)

// RequireSession rejects requests without a live session and stores the
// session and its user on the echo context.
func RequireSession(service *auth.Service, cookies *CookieManager, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := cookies.Token(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
			}

			authenticated, ok, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				log.Error("session validation failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"error": "session validation failed",
				})
			}
			if !ok {
				cookies.Clear(c)
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid or expired session",
				})
			}

			c.Set(contextKeyAuth, authenticated)
			c.Set(contextKeyToken, token)
			return next(c)
		}
	}
}

func currentAuth(c echo.Context) *auth.Authenticated {
	authenticated, _ := c.Get(contextKeyAuth).(*auth.Authenticated)
	return authenticated
}
