package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/elskow/authcore/internal/auth"
)

type Handler struct {
	service *auth.Service
	cookies *CookieManager
	log     *zap.Logger
}

func NewHandler(service *auth.Service, cookies *CookieManager, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		cookies: cookies,
		log:     log,
	}
}

// Routes mounts the auth and profile endpoints on e.
func (h *Handler) Routes(e *echo.Echo) {
	requireSession := RequireSession(h.service, h.cookies, h.log)

	authGroup := e.Group("/api/auth")
	authGroup.POST("/register", h.register)
	authGroup.POST("/login", h.login)
	authGroup.POST("/logout", h.logout)
	authGroup.POST("/refresh", h.refresh)
	authGroup.GET("/me", h.me, requireSession)
	authGroup.GET("/sessions", h.listSessions, requireSession)
	authGroup.DELETE("/sessions", h.revokeAllSessions, requireSession)
	authGroup.DELETE("/sessions/:id", h.revokeSession, requireSession)

	profile := e.Group("/api/profile", requireSession)
	profile.GET("", h.getProfile)
	profile.PUT("", h.updateProfile)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Bio         *string           `json:"bio"`
	AvatarURL   *string           `json:"avatar_url"`
	SocialLinks map[string]string `json:"social_links"`
}

type sessionResponse struct {
	User      *auth.User    `json:"user"`
	Session   *auth.Session `json:"session,omitempty"`
	Token     string        `json:"token,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func newSessionResponse(user *auth.User, session *auth.Session) sessionResponse {
	resp := sessionResponse{User: user, Session: session}
	if session != nil {
		resp.Token = session.Token
		resp.ExpiresAt = &session.ExpiresAt
	}
	return resp
}

// register handles POST /api/auth/register
func (h *Handler) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.service.Register(c.Request().Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Client:   clientInfo(c),
	})
	if err != nil {
		return h.writeError(c, "register", err)
	}

	if res.Session != nil {
		h.cookies.SetSession(c, res.Session.Token, res.Session.ExpiresAt)
	}
	return c.JSON(http.StatusCreated, newSessionResponse(res.User, res.Session))
}

// login handles POST /api/auth/login
func (h *Handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.service.Login(c.Request().Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientInfo(c),
	})
	if err != nil {
		return h.writeError(c, "login", err)
	}

	h.cookies.SetSession(c, res.Session.Token, res.Session.ExpiresAt)
	return c.JSON(http.StatusOK, newSessionResponse(res.User, res.Session))
}

// logout handles POST /api/auth/logout
func (h *Handler) logout(c echo.Context) error {
	if err := h.service.Logout(c.Request().Context(), h.cookies.Token(c)); err != nil {
		return h.writeError(c, "logout", err)
	}

	h.cookies.Clear(c)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// refresh handles POST /api/auth/refresh
func (h *Handler) refresh(c echo.Context) error {
	token := h.cookies.Token(c)
	if token == "" {
		return unauthorized(c, "no session token")
	}

	session, ok, err := h.service.RefreshSession(c.Request().Context(), token)
	if err != nil {
		return h.writeError(c, "refresh session", err)
	}
	if !ok {
		h.cookies.Clear(c)
		return unauthorized(c, "session expired or invalid")
	}

	h.cookies.SetSession(c, token, session.ExpiresAt)
	return c.JSON(http.StatusOK, map[string]any{
		"expires_at": session.ExpiresAt,
	})
}

// me handles GET /api/auth/me
func (h *Handler) me(c echo.Context) error {
	authenticated := currentAuth(c)
	return c.JSON(http.StatusOK, map[string]any{
		"user":    authenticated.User,
		"session": authenticated.Session,
	})
}

// listSessions handles GET /api/auth/sessions
func (h *Handler) listSessions(c echo.Context) error {
	authenticated := currentAuth(c)

	sessions, err := h.service.ListSessions(c.Request().Context(), authenticated.User.ID)
	if err != nil {
		return h.writeError(c, "list sessions", err)
	}

	type sessionView struct {
		auth.Session
		Current bool `json:"current"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{Session: s, Current: s.ID == authenticated.Session.ID})
	}
	return c.JSON(http.StatusOK, views)
}

// revokeSession handles DELETE /api/auth/sessions/:id
func (h *Handler) revokeSession(c echo.Context) error {
	authenticated := currentAuth(c)
	sessionID := c.Param("id")

	found, err := h.service.RevokeSession(c.Request().Context(), authenticated.User.ID, sessionID)
	if err != nil {
		return h.writeError(c, "revoke session", err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
	}

	if sessionID == authenticated.Session.ID {
		h.cookies.Clear(c)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "session revoked",
	})
}

// revokeAllSessions handles DELETE /api/auth/sessions
func (h *Handler) revokeAllSessions(c echo.Context) error {
	authenticated := currentAuth(c)

	count, err := h.service.RevokeAllSessions(c.Request().Context(), authenticated.User.ID)
	if err != nil {
		return h.writeError(c, "revoke sessions", err)
	}

	h.cookies.Clear(c)
	return c.JSON(http.StatusOK, map[string]any{
		"revoked": count,
	})
}

// getProfile handles GET /api/profile
func (h *Handler) getProfile(c echo.Context) error {
	profile, err := h.service.GetProfile(c.Request().Context(), currentAuth(c).User.ID)
	if err != nil {
		return h.writeError(c, "get profile", err)
	}
	return c.JSON(http.StatusOK, profile)
}

// updateProfile handles PUT /api/profile
func (h *Handler) updateProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	profile, err := h.service.UpdateProfile(c.Request().Context(), currentAuth(c).User.ID, auth.ProfileInput{
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
		SocialLinks: req.SocialLinks,
	})
	if err != nil {
		return h.writeError(c, "update profile", err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) writeError(c echo.Context, op string, err error) error {
	var validationErr *auth.ValidationError
	var conflictErr *auth.ConflictError

	switch {
	case errors.As(err, &validationErr):
		return badRequest(c, validationErr.Error())
	case errors.As(err, &conflictErr):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": conflictErr.Error(),
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		return unauthorized(c, "invalid email or password")
	default:
		h.log.Error(op+" failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": op + " failed",
		})
	}
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": message})
}

func clientInfo(c echo.Context) auth.ClientInfo {
	return auth.ClientInfo{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
