package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elskow/authcore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dummyPassword = "authcore-timing-equalizer"

type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	repository Repository
	hasher     Hasher
	tokens     *TokenGenerator
	sessions   *SessionStore
	validator  *Validator
	now        func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

type Option func(*serviceOptions)

type serviceOptions struct {
	now           func() time.Time
	hasher        Hasher
	touchInterval time.Duration
}

// WithClock replaces the wall clock used for expiry and login bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

func WithHasher(h Hasher) Option {
	return func(o *serviceOptions) { o.hasher = h }
}

// WithTouchInterval sets how stale last_active_at may get before validation
// refreshes it. Zero disables touching.
func WithTouchInterval(d time.Duration) Option {
	return func(o *serviceOptions) { o.touchInterval = d }
}

func NewService(config *config.AuthConfig, log *zap.Logger, repo Repository, opts ...Option) *Service {
	o := serviceOptions{now: utcNow}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasher == nil {
		o.hasher = NewBcryptHasher(config.BcryptCost)
	}

	tokens := NewTokenGenerator(o.now)
	sessions := NewSessionStore(repo, tokens, config.TokenBytes, config.SessionDuration,
		config.MaxSessionsPerUser, o.now, log)

	return &Service{
		config:     config,
		log:        log,
		repository: repo,
		hasher:     o.hasher,
		tokens:     tokens,
		sessions:   sessions,
		validator:  NewValidator(sessions, repo, repo, o.touchInterval, o.now, log),
		now:        o.now,
	}
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
	Client   ClientInfo
}

type RegisterResult struct {
	User *User
	// Session is nil when auto login on register is disabled.
	Session *Session
}

// Register creates a user and, if configured, logs them in. User creation and
// session issuance succeed or fail together.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)
	if err := s.validateRegistration(email, in.Username, in.Password); err != nil {
		return nil, err
	}

	if err := s.checkAvailable(ctx, email, in.Username); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     in.Username,
		PasswordHash: digest,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var session *Session
	if tx, ok := s.repository.(Transactor); ok {
		err = tx.WithinTx(ctx, func(repo Repository) error {
			var txErr error
			session, txErr = s.createUserAndSession(ctx, repo, user, in.Client)
			return txErr
		})
	} else {
		session, err = s.createUserAndSession(ctx, s.repository, user, in.Client)
		if err != nil && !errors.Is(err, ErrConflict) {
			s.compensateUser(ctx, user.ID)
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Bool("session_issued", session != nil))

	return &RegisterResult{User: user, Session: session}, nil
}

func (s *Service) validateRegistration(email, username, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validateUsername(username); err != nil {
		return err
	}
	return validatePassword(password, s.config.MinPasswordLength)
}

func (s *Service) checkAvailable(ctx context.Context, email, username string) error {
	if _, err := s.repository.UserByEmail(ctx, email); err == nil {
		return &ConflictError{Field: "email"}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if _, err := s.repository.UserByUsername(ctx, username); err == nil {
		return &ConflictError{Field: "username"}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (s *Service) createUserAndSession(ctx context.Context, repo Repository, user *User, client ClientInfo) (*Session, error) {
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if !s.config.AutoLoginOnRegister {
		return nil, nil
	}
	return s.sessions.withRepo(repo).Create(ctx, user.ID, client)
}

// compensateUser undoes a user insert on stores without transactions.
func (s *Service) compensateUser(ctx context.Context, userID string) {
	if err := s.repository.DeleteUser(context.WithoutCancel(ctx), userID); err != nil {
		s.log.Error("failed to roll back user after registration failure",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	s.log.Warn("rolled back user after registration failure", zap.String("user_id", userID))
}

type LoginInput struct {
	Email    string
	Password string
	Client   ClientInfo
}

type LoginResult struct {
	User    *User
	Session *Session
}

// Login verifies credentials and issues a session. Unknown email, wrong
// password and a locked account all yield ErrInvalidCredentials after paying
// the same hashing cost.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	if in.Password == "" {
		return nil, &ValidationError{Field: "password", Reason: "is required"}
	}

	user, err := s.repository.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnHash(in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	if user.LockedUntil != nil {
		if now.Before(*user.LockedUntil) {
			_, _ = s.hasher.Verify(in.Password, user.PasswordHash)
			s.log.Warn("login attempt on locked account",
				zap.String("user_id", user.ID),
				zap.Time("locked_until", *user.LockedUntil))
			return nil, ErrInvalidCredentials
		}
		if err := s.repository.UnlockUser(ctx, user.ID); err != nil {
			return nil, err
		}
		user.LockedUntil = nil
		user.FailedLoginAttempts = 0
	}

	valid, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		s.log.Error("stored password digest is unusable",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return nil, err
	}

	if !valid {
		return nil, s.recordFailure(ctx, user, now)
	}

	if err := s.repository.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.FailedLoginAttempts = 0
	user.LastLoginAt = &now

	session, err := s.sessions.Create(ctx, user.ID, in.Client)
	if err != nil {
		return nil, err
	}

	s.log.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID))

	return &LoginResult{User: user, Session: session}, nil
}

func (s *Service) recordFailure(ctx context.Context, user *User, now time.Time) error {
	count, err := s.repository.RecordFailedLogin(ctx, user.ID, now)
	if err != nil {
		return err
	}
	user.FailedLoginAttempts = count

	if s.config.MaxFailedLogins > 0 && count >= s.config.MaxFailedLogins {
		until := now.Add(s.config.LockoutDuration)
		if err := s.repository.LockUser(ctx, user.ID, until); err != nil {
			s.log.Error("failed to lock account", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			s.log.Warn("account locked after repeated failures",
				zap.String("user_id", user.ID),
				zap.Int("failed_attempts", count),
				zap.Time("locked_until", until))
		}
	}

	return ErrInvalidCredentials
}

// burnHash spends one verification on a fixed digest so unknown emails cost
// as much as wrong passwords.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.log.Error("failed to prepare dummy digest", zap.Error(err))
			return
		}
		s.dummyDigest = digest
	})
	if s.dummyDigest == "" {
		_, _ = s.hasher.Hash(password)
		return
	}
	_, _ = s.hasher.Verify(password, s.dummyDigest)
}

// Logout invalidates the session behind token. Unknown or already
// invalidated tokens succeed.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		s.log.Error("failed to invalidate session", zap.Error(err))
		return err
	}
	return nil
}

// ValidateSession returns ok=false when token does not identify a live
// session. It does not say why.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Authenticated, bool, error) {
	return s.validator.GetValidSession(ctx, token)
}

// RefreshSession pushes the expiry of a live session one full session
// duration past now.
func (s *Service) RefreshSession(ctx context.Context, token string) (*Session, bool, error) {
	auth, ok, err := s.validator.GetValidSession(ctx, token)
	if err != nil || !ok {
		return nil, false, err
	}

	now := s.now()
	expiresAt := s.tokens.ExpiryAfter(s.sessions.duration)
	if err := s.repository.ExtendSession(ctx, auth.Session.ID, expiresAt, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	auth.Session.ExpiresAt = expiresAt
	auth.Session.LastActiveAt = now
	return auth.Session, true, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	return s.repository.SessionsByUser(ctx, userID)
}

// RevokeSession deletes one of the user's sessions by ID and reports whether
// it existed.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	return s.repository.DeleteSessionByID(ctx, userID, sessionID)
}

func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.repository.DeleteSessionsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("revoked all sessions", zap.String("user_id", userID), zap.Int64("count", n))
	return n, nil
}

// CleanupExpiredSessions removes sessions whose expiry has passed.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repository.DeleteExpiredSessions(ctx, s.now())
}

type ProfileInput struct {
	Bio         *string
	AvatarURL   *string
	SocialLinks map[string]string
}

// GetProfile returns the user's profile, or an empty one if none was saved.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	profile, err := s.repository.ProfileByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Profile{UserID: userID}, nil
	}
	return profile, err
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*Profile, error) {
	if in.Bio != nil && len(*in.Bio) > 1000 {
		return nil, &ValidationError{Field: "bio", Reason: "must be at most 1000 characters"}
	}
	if in.AvatarURL != nil && *in.AvatarURL != "" {
		if err := validateProfileURL("avatar_url", *in.AvatarURL); err != nil {
			return nil, err
		}
	}
	for name, link := range in.SocialLinks {
		if err := validateProfileURL(fmt.Sprintf("social_links.%s", name), link); err != nil {
			return nil, err
		}
	}

	now := s.now()
	profile := &Profile{
		ID:          uuid.NewString(),
		UserID:      userID,
		Bio:         in.Bio,
		AvatarURL:   in.AvatarURL,
		SocialLinks: in.SocialLinks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repository.UpsertProfile(ctx, profile); err != nil {
		return nil, err
	}
	return s.repository.ProfileByUserID(ctx, userID)
}
