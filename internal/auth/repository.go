package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserQueries interface {
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}

type UserMutations interface {
	CreateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error
	// RecordFailedLogin increments the counter and returns its new value.
	RecordFailedLogin(ctx context.Context, id string, at time.Time) (int, error)
	// RecordSuccessfulLogin resets the counter, clears any lock and stamps
	// the last login time.
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error
	LockUser(ctx context.Context, id string, until time.Time) error
	UnlockUser(ctx context.Context, id string) error
}

type SessionQueries interface {
	SessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// SessionsByUser returns the user's sessions, oldest first.
	SessionsByUser(ctx context.Context, userID string) ([]Session, error)
}

type SessionMutations interface {
	CreateSession(ctx context.Context, session *Session) error
	// DeleteSessionByTokenHash succeeds when no row matches.
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteSessionByID(ctx context.Context, userID, sessionID string) (bool, error)
	DeleteSessionsByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	ExtendSession(ctx context.Context, sessionID string, expiresAt, at time.Time) error
}

type ProfileQueries interface {
	ProfileByUserID(ctx context.Context, userID string) (*Profile, error)
}

type ProfileMutations interface {
	UpsertProfile(ctx context.Context, profile *Profile) error
}

// Queries is the read-only capability handed to code that must not write.
type Queries interface {
	UserQueries
	SessionQueries
	ProfileQueries
}

type Mutations interface {
	UserMutations
	SessionMutations
	ProfileMutations
}

type Repository interface {
	Queries
	Mutations
}

// Transactor is implemented by repositories that can run several mutations
// as one atomic unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithinTx(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) CreateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Field: conflictingUserField(err)}
		}
		return persistenceError("create user", err)
	}
	return nil
}

func (r *repository) UserByID(ctx context.Context, id string) (*User, error) {
	return r.findUser(ctx, "id = ?", id)
}

func (r *repository) UserByEmail(ctx context.Context, email string) (*User, error) {
	return r.findUser(ctx, "email = ?", email)
}

func (r *repository) UserByUsername(ctx context.Context, username string) (*User, error) {
	return r.findUser(ctx, "username = ?", username)
}

func (r *repository) findUser(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("find user", err)
	}
	return &user, nil
}

func (r *repository) DeleteUser(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&User{}).Error; err != nil {
		return persistenceError("delete user", err)
	}
	return nil
}

func (r *repository) RecordFailedLogin(ctx context.Context, id string, at time.Time) (int, error) {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
		"updated_at":            at,
	})
	if res.Error != nil {
		return 0, persistenceError("record failed login", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}

	var count int
	if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Select("failed_login_attempts").Scan(&count).Error; err != nil {
		return 0, persistenceError("read failed logins", err)
	}
	return count, nil
}

func (r *repository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateUser(ctx, id, "record successful login", map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login_at":         at,
		"updated_at":            at,
	})
}

func (r *repository) LockUser(ctx context.Context, id string, until time.Time) error {
	return r.updateUser(ctx, id, "lock user", map[string]any{
		"locked_until": until,
	})
}

func (r *repository) UnlockUser(ctx context.Context, id string) error {
	return r.updateUser(ctx, id, "unlock user", map[string]any{
		"locked_until":          nil,
		"failed_login_attempts": 0,
	})
}

func (r *repository) updateUser(ctx context.Context, id, op string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return persistenceError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) CreateSession(ctx context.Context, session *Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		if isUniqueViolation(err) {
			return errDuplicateKey
		}
		return persistenceError("create session", err)
	}
	return nil
}

func (r *repository) SessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("find session", err)
	}
	return &session, nil
}

func (r *repository) SessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, persistenceError("list sessions", err)
	}
	return sessions, nil
}

func (r *repository) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&Session{}).Error; err != nil {
		return persistenceError("delete session", err)
	}
	return nil
}

func (r *repository) DeleteSessionByID(ctx context.Context, userID, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
	if res.Error != nil {
		return false, persistenceError("delete session", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Session{})
	if res.Error != nil {
		return 0, persistenceError("delete user sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&Session{})
	if res.Error != nil {
		return 0, persistenceError("delete expired sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *repository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return r.updateSession(ctx, sessionID, "touch session", map[string]any{
		"last_active_at": at,
		"updated_at":     at,
	})
}

func (r *repository) ExtendSession(ctx context.Context, sessionID string, expiresAt, at time.Time) error {
	return r.updateSession(ctx, sessionID, "extend session", map[string]any{
		"expires_at":     expiresAt,
		"last_active_at": at,
		"updated_at":     at,
	})
}

func (r *repository) updateSession(ctx context.Context, id, op string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return persistenceError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("find profile", err)
	}
	return &profile, nil
}

func (r *repository) UpsertProfile(ctx context.Context, profile *Profile) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"bio", "avatar_url", "social_links", "updated_at"}),
	}).Create(profile).Error
	if err != nil {
		return persistenceError("upsert profile", err)
	}
	return nil
}

// isUniqueViolation recognises unique-constraint failures from gorm's
// translated error, SQLite and PostgreSQL.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func conflictingUserField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "email"):
		return "email"
	case strings.Contains(msg, "username"):
		return "username"
	default:
		return "email or username"
	}
}
