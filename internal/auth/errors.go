// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import "errors"

var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by a UserRepository when a create would break
	// the email or username uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrInvalidToken is returned for any token that fails verification.
	// Bad signature, wrong algorithm, malformed claims and expiry are not
	// distinguished.
	ErrInvalidToken = errors.New("invalid token")
)

// ConflictError identifies which unique field a rejected create collided with.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already exists"
}

// Unwrap lets errors.Is match ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
