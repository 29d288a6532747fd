// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field names used in FieldError.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldPassword = "password"
)

// MinUsernameLength is the shortest accepted username, counted in runes after trimming.
const MinUsernameLength = 3

// MaxPasswordBytes is the longest password bcrypt can hash. Longer input is
// rejected rather than truncated.
const MaxPasswordBytes = 72

// User-facing validation and authentication messages.
const (
	MsgEmailRequired    = "Email is required"
	MsgEmailInvalid     = "Email is Invalid"
	MsgUsernameRequired = "Username is required"
	MsgUsernameLength   = "Username length must be greater 3"
	MsgPasswordRequired = "Password is required"
	MsgPasswordTooLong  = "Password length must be at most 72 bytes"
	MsgEmailTaken       = "Email is already is linked to an account"
	MsgUsernameTaken    = "Username is already is linked to an account"
	MsgAccountNotFound  = "Email/Username could not be found"
	MsgPasswordWrong    = "Password is wrong"
)

// emailRegex accepts a dot-atom or quoted-string local part followed by a
// domain name or a bracketed IPv4 literal. Atoms match either case; the
// address is stored as entered.
var emailRegex = regexp.MustCompile(
	`^(?:[A-Za-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[A-Za-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*` +
		`|"(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21\x23-\x5b\x5d-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])*")` +
		`@(?:(?:[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?\.)+[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?` +
		`|\[(?:(?:2(?:5[0-5]|[0-4][0-9])|1[0-9][0-9]|[1-9]?[0-9])\.){3}` +
		`(?:2(?:5[0-5]|[0-4][0-9])|1[0-9][0-9]|[1-9]?[0-9]` +
		`|[A-Za-z0-9-]*[A-Za-z0-9]:(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21-\x5a\x53-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])+)\])$`,
)

// FieldError attributes a validation or authentication failure to one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateEmail returns nil if the trimmed email is present and well formed.
func ValidateEmail(raw string) *FieldError {
	email := strings.TrimSpace(raw)
	if email == "" {
		return &FieldError{Field: FieldEmail, Message: MsgEmailRequired}
	}
	if !emailRegex.MatchString(email) {
		return &FieldError{Field: FieldEmail, Message: MsgEmailInvalid}
	}
	return nil
}

// ValidateUsername returns nil if the trimmed username has at least
// MinUsernameLength characters.
func ValidateUsername(raw string) *FieldError {
	username := strings.TrimSpace(raw)
	if username == "" {
		return &FieldError{Field: FieldUsername, Message: MsgUsernameRequired}
	}
	if utf8.RuneCountInString(username) < MinUsernameLength {
		return &FieldError{Field: FieldUsername, Message: MsgUsernameLength}
	}
	return nil
}

// ValidatePassword returns nil if the password is not blank and fits bcrypt's limit.
func ValidatePassword(raw string) *FieldError {
	return PasswordPolicy{}.Validate(raw)
}

// PasswordPolicy holds the optional password strength rule.
// The zero value requires a non-blank password of at most MaxPasswordBytes.
type PasswordPolicy struct {
	MinLength int
}

// Validate checks raw against the policy. The password itself is never trimmed
// for the length check; only blankness is judged on the trimmed form.
func (p PasswordPolicy) Validate(raw string) *FieldError {
	if strings.TrimSpace(raw) == "" {
		return &FieldError{Field: FieldPassword, Message: MsgPasswordRequired}
	}
	if len(raw) > MaxPasswordBytes {
		return &FieldError{Field: FieldPassword, Message: MsgPasswordTooLong}
	}
	if p.MinLength > 0 && utf8.RuneCountInString(raw) < p.MinLength {
		return &FieldError{
			Field:   FieldPassword,
			Message: fmt.Sprintf("Password length must be at least %d", p.MinLength),
		}
	}
	return nil
}

// ValidateRegistration runs every registration rule and collects all failures.
func ValidateRegistration(email, username, password string, policy PasswordPolicy) []FieldError {
	var errs []FieldError
	for _, fe := range []*FieldError{
		ValidateEmail(email),
		ValidateUsername(username),
		policy.Validate(password),
	} {
		if fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// UsernameKey returns the normalized form used for case-insensitive
// username uniqueness and lookup.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
