package auth

import (
	"strings"
	"time"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subject is the authorization subject a logged-in user acts as.
func (u User) Subject() string {
	return NormalizeEmail(u.Email)
}

// NormalizeEmail folds an address to the form stored and compared everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
