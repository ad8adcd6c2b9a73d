package auth

import (
	"context"
	"strings"
	"time"
)

// User is a persisted account that can exchange credentials for a token.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// UserStore looks up accounts for the login endpoint.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Login verifies credentials against the store and returns the identity to
// mint a token for. Every failure collapses to ErrUnauthorized so the
// endpoint cannot be used to probe which emails exist.
func Login(ctx context.Context, store UserStore, email, password string) (Identity, error) {
	if store == nil {
		return Identity{}, ErrUnauthorized
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Identity{}, ErrUnauthorized
	}
	user, err := store.FindByEmail(ctx, email)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return Identity{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}
