// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User represents an account that can obtain tokens.
type User struct {
	ID           ulid.ULID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	UsernameKey  string    `json:"-"`
	PasswordHash string    `json:"-"`
	TokenVersion int       `json:"tokenVersion"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewUser creates a User with a fresh ID and TokenVersion 0.
// Email and username are trimmed; the username key is derived from the username.
func NewUser(email, username, passwordHash string) (*User, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" {
		return nil, oops.Code("USER_INVALID").Errorf("email cannot be empty")
	}
	if username == "" {
		return nil, oops.Code("USER_INVALID").Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		UsernameKey:  UsernameKey(username),
		PasswordHash: passwordHash,
		TokenVersion: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UserRepository manages user persistence.
// Lookups that find nothing return an error wrapping ErrNotFound.
type UserRepository interface {
	// FindByEmailOrUsernameKey returns the user whose email equals email
	// (case-sensitive) or whose username key equals usernameKey.
	// When two different users match, the email match wins.
	FindByEmailOrUsernameKey(ctx context.Context, email, usernameKey string) (*User, error)

	// FindByID retrieves a user by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create stores a new user. A uniqueness violation returns a *ConflictError.
	Create(ctx context.Context, user *User) error

	// IncrementTokenVersion atomically adds one to the user's token version
	// and returns the updated user.
	IncrementTokenVersion(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePasswordHash replaces the stored hash without touching the
	// token version.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error

	// List returns all users ordered by creation.
	List(ctx context.Context) ([]*User, error)
}
