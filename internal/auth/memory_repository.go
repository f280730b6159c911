package auth

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// memoryRepository keeps everything in process memory. It enforces the same
// unique and cascade rules as the SQL schema but has no transactions, so it
// does not implement Transactor.
type memoryRepository struct {
	mu           sync.RWMutex
	users        map[string]*User
	usersByEmail map[string]string
	usersByName  map[string]string
	sessions     map[string]*Session
	sessionsHash map[string]string
	profiles     map[string]*Profile
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:        make(map[string]*User),
		usersByEmail: make(map[string]string),
		usersByName:  make(map[string]string),
		sessions:     make(map[string]*Session),
		sessionsHash: make(map[string]string),
		profiles:     make(map[string]*Profile),
	}
}

func (r *memoryRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByEmail[user.Email]; exists {
		return &ConflictError{Field: "email"}
	}
	if _, exists := r.usersByName[user.Username]; exists {
		return &ConflictError{Field: "username"}
	}

	// Clone the user to prevent external modifications
	stored := *user
	r.users[stored.ID] = &stored
	r.usersByEmail[stored.Email] = stored.ID
	r.usersByName[stored.Username] = stored.ID
	return nil
}

func (r *memoryRepository) UserByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userCopy(id)
}

func (r *memoryRepository) UserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userCopy(r.usersByEmail[email])
}

func (r *memoryRepository) UserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userCopy(r.usersByName[username])
}

func (r *memoryRepository) userCopy(id string) (*User, error) {
	user, exists := r.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *memoryRepository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return nil
	}
	delete(r.usersByEmail, user.Email)
	delete(r.usersByName, user.Username)
	delete(r.users, id)

	for sid, s := range r.sessions {
		if s.UserID == id {
			delete(r.sessionsHash, s.TokenHash)
			delete(r.sessions, sid)
		}
	}
	delete(r.profiles, id)
	return nil
}

func (r *memoryRepository) RecordFailedLogin(_ context.Context, id string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return 0, ErrNotFound
	}
	user.FailedLoginAttempts++
	user.UpdatedAt = at
	return user.FailedLoginAttempts, nil
}

func (r *memoryRepository) RecordSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	return r.mutateUser(id, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLoginAt = &at
		u.UpdatedAt = at
	})
}

func (r *memoryRepository) LockUser(_ context.Context, id string, until time.Time) error {
	return r.mutateUser(id, func(u *User) {
		u.LockedUntil = &until
	})
}

func (r *memoryRepository) UnlockUser(_ context.Context, id string) error {
	return r.mutateUser(id, func(u *User) {
		u.LockedUntil = nil
		u.FailedLoginAttempts = 0
	})
}

func (r *memoryRepository) mutateUser(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return ErrNotFound
	}
	fn(user)
	return nil
}

func (r *memoryRepository) CreateSession(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[session.UserID]; !exists {
		return persistenceError("create session", ErrNotFound)
	}
	if _, exists := r.sessionsHash[session.TokenHash]; exists {
		return errDuplicateKey
	}

	stored := *session
	stored.Token = ""
	r.sessions[stored.ID] = &stored
	r.sessionsHash[stored.TokenHash] = stored.ID
	return nil
}

func (r *memoryRepository) SessionByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[r.sessionsHash[tokenHash]]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *memoryRepository) SessionsByUser(_ context.Context, userID string) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *memoryRepository) DeleteSessionByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.sessionsHash[tokenHash]; exists {
		delete(r.sessions, id)
		delete(r.sessionsHash, tokenHash)
	}
	return nil
}

func (r *memoryRepository) DeleteSessionByID(_ context.Context, userID, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists || session.UserID != userID {
		return false, nil
	}
	delete(r.sessionsHash, session.TokenHash)
	delete(r.sessions, sessionID)
	return true, nil
}

func (r *memoryRepository) DeleteSessionsByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessionsHash, s.TokenHash)
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if !sessionLive(s, now) {
			delete(r.sessionsHash, s.TokenHash)
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	return r.mutateSession(sessionID, func(s *Session) {
		s.LastActiveAt = at
		s.UpdatedAt = at
	})
}

func (r *memoryRepository) ExtendSession(_ context.Context, sessionID string, expiresAt, at time.Time) error {
	return r.mutateSession(sessionID, func(s *Session) {
		s.ExpiresAt = expiresAt
		s.LastActiveAt = at
		s.UpdatedAt = at
	})
}

func (r *memoryRepository) mutateSession(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return ErrNotFound
	}
	fn(session)
	return nil
}

func (r *memoryRepository) ProfileByUserID(_ context.Context, userID string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.profiles[userID]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *profile
	clone.SocialLinks = maps.Clone(profile.SocialLinks)
	return &clone, nil
}

func (r *memoryRepository) UpsertProfile(_ context.Context, profile *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[profile.UserID]; !exists {
		return persistenceError("upsert profile", ErrNotFound)
	}

	stored := *profile
	stored.SocialLinks = maps.Clone(profile.SocialLinks)
	if existing, exists := r.profiles[profile.UserID]; exists {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	r.profiles[profile.UserID] = &stored
	return nil
}
