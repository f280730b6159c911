package auth

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Reason: "invalid email format"}
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	if !usernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Reason: "must be 3-32 characters of letters, digits, '.', '_' or '-'"}
	}
	return nil
}

func validatePassword(password string, minLength int) error {
	if password == "" {
		return &ValidationError{Field: "password", Reason: "is required"}
	}
	if len(password) < minLength {
		return &ValidationError{Field: "password", Reason: "is too short"}
	}
	if len(password) > maxPasswordBytes {
		return &ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	return nil
}

func validateProfileURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: field, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}
