// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package memory provides an in-memory auth.UserRepository for development
// and tests. It enforces the same uniqueness rules as the PostgreSQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/knat-dev/jwtserver/internal/auth"
)

// UserRepository is a mutex-guarded auth.UserRepository.
type UserRepository struct {
	mu    sync.RWMutex
	byID  map[ulid.ULID]*auth.User
	email map[string]ulid.ULID
	key   map[string]ulid.ULID
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:  make(map[ulid.ULID]*auth.User),
		email: make(map[string]ulid.ULID),
		key:   make(map[string]ulid.ULID),
	}
}

// FindByEmailOrUsernameKey returns the user matching email, else the user matching usernameKey.
func (r *UserRepository) FindByEmailOrUsernameKey(_ context.Context, email, usernameKey string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.email[email]; ok {
		return clone(r.byID[id]), nil
	}
	if id, ok := r.key[usernameKey]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, oops.Code("USER_NOT_FOUND").
		With("email", email).
		With("username_key", usernameKey).
		Wrap(auth.ErrNotFound)
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(u), nil
}

// Create stores a copy of user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.email[user.Email]; ok {
		return oops.Code("USER_CONFLICT").
			With("field", auth.FieldEmail).
			Wrap(&auth.ConflictError{Field: auth.FieldEmail})
	}
	if _, ok := r.key[user.UsernameKey]; ok {
		return oops.Code("USER_CONFLICT").
			With("field", auth.FieldUsername).
			Wrap(&auth.ConflictError{Field: auth.FieldUsername})
	}

	stored := clone(user)
	r.byID[user.ID] = stored
	r.email[user.Email] = user.ID
	r.key[user.UsernameKey] = user.ID
	return nil
}

// IncrementTokenVersion adds one to the user's token version under the write lock.
func (r *UserRepository) IncrementTokenVersion(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.TokenVersion++
	u.UpdatedAt = time.Now().UTC()
	return clone(u), nil
}

// UpdatePasswordHash replaces the user's password hash.
func (r *UserRepository) UpdatePasswordHash(_ context.Context, id ulid.ULID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns all users ordered by ID, which orders them by creation time.
func (r *UserRepository) List(_ context.Context) ([]*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*auth.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, clone(u))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID.Compare(users[j].ID) < 0
	})
	return users, nil
}

func clone(u *auth.User) *auth.User {
	c := *u
	return &c
}
