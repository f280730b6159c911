package auth

import (
	"time"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

type User struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	Email               string     `gorm:"uniqueIndex;not null" json:"email"`
	Username            string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash        string     `gorm:"not null" json:"-"`
	Role                Role       `gorm:"size:16;not null;default:USER" json:"role"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Session is one authenticated client context. Only the SHA-256 of the token
// is persisted; Token is populated when the session is issued.
type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;index" json:"user_id"`
	TokenHash    string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	Token        string    `gorm:"-" json:"-"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
	IPAddress    *string   `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    *string   `gorm:"size:512" json:"user_agent,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Session) TableName() string {
	return "sessions"
}

type Profile struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	UserID      string            `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Bio         *string           `json:"bio,omitempty"`
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	SocialLinks map[string]string `gorm:"serializer:json" json:"social_links,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
