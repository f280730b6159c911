package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	DefaultTokenBytes   = 32
	DefaultSessionHours = 24
)

// TokenGenerator issues opaque session tokens and their expiry times.
type TokenGenerator struct {
	random io.Reader
	now    func() time.Time
}

func NewTokenGenerator(now func() time.Time) *TokenGenerator {
	if now == nil {
		now = utcNow
	}
	return &TokenGenerator{random: rand.Reader, now: now}
}

// Generate returns byteLength random bytes encoded as 2*byteLength hex chars.
func (g *TokenGenerator) Generate(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultTokenBytes
	}
	buf := make([]byte, byteLength)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (g *TokenGenerator) ComputeExpiry(hours int) time.Time {
	return g.ExpiryAfter(time.Duration(hours) * time.Hour)
}

func (g *TokenGenerator) ExpiryAfter(d time.Duration) time.Time {
	return g.now().Add(d)
}

// hashToken is the at-rest form of a session token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func utcNow() time.Time {
	return time.Now().UTC()
}
