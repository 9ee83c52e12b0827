package auth

import (
	"errors"
	"time"
)

// Roles stored on users.role.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("auth: email already registered")

// User represents an account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	// TokenHash is hex(sha256(jwt)) of the only token currently accepted.
	TokenHash string
	CreatedAt time.Time
	UpdatedAt time.Time
}
