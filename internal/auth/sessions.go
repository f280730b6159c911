package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClientInfo is the optional request metadata snapshotted onto a session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type sessionRepository interface {
	SessionQueries
	SessionMutations
}

// SessionStore creates, finds and invalidates persisted sessions.
type SessionStore struct {
	repo       sessionRepository
	tokens     *TokenGenerator
	tokenBytes int
	duration   time.Duration
	maxPerUser int
	now        func() time.Time
	log        *zap.Logger
}

func NewSessionStore(
	repo sessionRepository,
	tokens *TokenGenerator,
	tokenBytes int,
	duration time.Duration,
	maxPerUser int,
	now func() time.Time,
	log *zap.Logger,
) *SessionStore {
	if now == nil {
		now = utcNow
	}
	if duration <= 0 {
		duration = DefaultSessionHours * time.Hour
	}
	return &SessionStore{
		repo:       repo,
		tokens:     tokens,
		tokenBytes: tokenBytes,
		duration:   duration,
		maxPerUser: maxPerUser,
		now:        now,
		log:        log,
	}
}

// withRepo returns a copy bound to repo, typically a transaction.
func (s *SessionStore) withRepo(repo sessionRepository) *SessionStore {
	clone := *s
	clone.repo = repo
	return &clone
}

// Create issues a new session for userID. A token collision is retried once
// with a fresh token before it is reported as ErrPersistence.
func (s *SessionStore) Create(ctx context.Context, userID string, client ClientInfo) (*Session, error) {
	if s.maxPerUser > 0 {
		if err := s.evictOldest(ctx, userID); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.tokens.Generate(s.tokenBytes)
		if err != nil {
			return nil, err
		}

		now := s.now()
		session := &Session{
			ID:           uuid.NewString(),
			UserID:       userID,
			TokenHash:    hashToken(token),
			ExpiresAt:    s.tokens.ExpiryAfter(s.duration),
			IPAddress:    optional(client.IPAddress),
			UserAgent:    optional(client.UserAgent),
			LastActiveAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = s.repo.CreateSession(ctx, session)
		if err == nil {
			session.Token = token
			return session, nil
		}
		if !errors.Is(err, errDuplicateKey) {
			return nil, err
		}

		s.log.Warn("session token collision, regenerating",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1))
		lastErr = err
	}

	return nil, persistenceError("create session", fmt.Errorf("token collision persisted after retry: %w", lastErr))
}

func (s *SessionStore) evictOldest(ctx context.Context, userID string) error {
	sessions, err := s.repo.SessionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for len(sessions) >= s.maxPerUser {
		oldest := sessions[0]
		if _, err := s.repo.DeleteSessionByID(ctx, userID, oldest.ID); err != nil {
			return err
		}
		s.log.Info("evicted oldest session",
			zap.String("user_id", userID),
			zap.String("session_id", oldest.ID))
		sessions = sessions[1:]
	}
	return nil
}

// Find looks a session up by its plaintext token. It does not judge expiry.
func (s *SessionStore) Find(ctx context.Context, token string) (*Session, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	session, err := s.repo.SessionByTokenHash(ctx, hashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Invalidate deletes the session for token. Unknown tokens are not an error.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.repo.DeleteSessionByTokenHash(ctx, hashToken(token))
}

// Authenticated is the result of a successful session validation.
type Authenticated struct {
	Session *Session
	User    *User
}

// Validator decides whether a presented token identifies a live session.
// Every authenticated request goes through GetValidSession.
type Validator struct {
	sessions      *SessionStore
	users         UserQueries
	touches       SessionMutations
	touchInterval time.Duration
	now           func() time.Time
	log           *zap.Logger
}

func NewValidator(
	sessions *SessionStore,
	users UserQueries,
	touches SessionMutations,
	touchInterval time.Duration,
	now func() time.Time,
	log *zap.Logger,
) *Validator {
	if now == nil {
		now = utcNow
	}
	return &Validator{
		sessions:      sessions,
		users:         users,
		touches:       touches,
		touchInterval: touchInterval,
		now:           now,
		log:           log,
	}
}

// GetValidSession reports ok=false both for unknown and for expired tokens.
// err is only set when the store itself fails.
func (v *Validator) GetValidSession(ctx context.Context, token string) (*Authenticated, bool, error) {
	session, found, err := v.sessions.Find(ctx, token)
	if err != nil || !found {
		return nil, false, err
	}

	now := v.now()
	if !sessionLive(session, now) {
		return nil, false, nil
	}

	user, err := v.users.UserByID(ctx, session.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if v.touchInterval > 0 && now.Sub(session.LastActiveAt) >= v.touchInterval {
		if err := v.touches.TouchSession(ctx, session.ID, now); err != nil {
			v.log.Warn("failed to touch session",
				zap.String("session_id", session.ID),
				zap.Error(err))
		} else {
			session.LastActiveAt = now
		}
	}

	return &Authenticated{Session: session, User: user}, true, nil
}

// sessionLive is the only expiry comparison in the package.
func sessionLive(session *Session, now time.Time) bool {
	return now.Before(session.ExpiresAt)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
