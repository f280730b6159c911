package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/elskow/authcore/internal/config"
)

const defaultCookieName = "session_token"

// CookieManager writes and clears the HttpOnly session cookie.
type CookieManager struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
}

func NewCookieManager(cfg config.HTTPConfig) *CookieManager {
	ss := http.SameSiteLaxMode
	switch strings.ToLower(cfg.SameSite) {
	case "none":
		ss = http.SameSiteNoneMode
	case "strict":
		ss = http.SameSiteStrictMode
	}

	name := cfg.CookieName
	if name == "" {
		name = defaultCookieName
	}
	return &CookieManager{Name: name, Secure: cfg.CookieSecure, SameSite: ss}
}

func (m *CookieManager) SetSession(c echo.Context, token string, expiresAt time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     m.Name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	})
}

func (m *CookieManager) Clear(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     m.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	})
}

// Token extracts the session token, preferring the Authorization header
// over the cookie.
func (m *CookieManager) Token(c echo.Context) string {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	cookie, err := c.Cookie(m.Name)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}
