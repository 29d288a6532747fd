// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/knat-dev/jwtserver/pkg/errutil"
)

var tracer = otel.Tracer("github.com/knat-dev/jwtserver/internal/auth")

// RefreshCookie delivers the refresh token to the client.
// The HTTP implementation writes an HTTP-only cookie scoped to the refresh path.
type RefreshCookie interface {
	SetRefreshToken(token string)
	ClearRefreshToken()
}

// RegisterResult is the outcome of Register.
// OK=false with no Errors means an internal failure.
type RegisterResult struct {
	OK     bool         `json:"ok"`
	Errors []FieldError `json:"errors,omitempty"`
}

// LoginResult is the outcome of Login.
// OK=false with no Errors means an internal failure.
type LoginResult struct {
	OK          bool         `json:"ok"`
	AccessToken string       `json:"accessToken,omitempty"`
	User        *User        `json:"user,omitempty"`
	Errors      []FieldError `json:"errors,omitempty"`
}

// RefreshResult is the outcome of Refresh.
type RefreshResult struct {
	OK          bool   `json:"ok"`
	AccessToken string `json:"accessToken"`
	// Failed marks an internal error rather than a rejected token. It is
	// never serialized; clients see the same body either way.
	Failed bool `json:"-"`
}

// Service orchestrates registration, login, refresh and revocation.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenService
	policy PasswordPolicy
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPasswordPolicy replaces the default non-blank password rule.
func WithPasswordPolicy(policy PasswordPolicy) ServiceOption {
	return func(s *Service) {
		s.policy = policy
	}
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, hasher PasswordHasher, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token service is required")
	}

	s := &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	return s, nil
}

// Register validates the input, rejects duplicates and stores a new user.
// All validation failures are reported together and no lookup is made while
// any remain.
func (s *Service) Register(ctx context.Context, email, username, password string) RegisterResult {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer span.End()

	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	key := UsernameKey(username)

	if errs := ValidateRegistration(email, username, password, s.policy); len(errs) > 0 {
		span.SetAttributes(attribute.String("outcome", "invalid"))
		return RegisterResult{Errors: errs}
	}

	existing, err := s.users.FindByEmailOrUsernameKey(ctx, email, key)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("outcome", "conflict"))
		if existing.Email == email {
			return RegisterResult{Errors: []FieldError{conflictFieldError(FieldEmail)}}
		}
		return RegisterResult{Errors: []FieldError{conflictFieldError(FieldUsername)}}
	case !errors.Is(err, ErrNotFound):
		s.fail(ctx, span, "registration lookup failed", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find existing user").
			Wrap(err))
		return RegisterResult{}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.fail(ctx, span, "password hashing failed", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err))
		return RegisterResult{}
	}

	user, err := NewUser(email, username, hash)
	if err != nil {
		s.fail(ctx, span, "user construction failed", err)
		return RegisterResult{}
	}

	if err := s.users.Create(ctx, user); err != nil {
		// The store's unique indexes catch concurrent registrations that
		// slipped past the lookup above.
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			span.SetAttributes(attribute.String("outcome", "conflict"))
			return RegisterResult{Errors: []FieldError{conflictFieldError(conflict.Field)}}
		}
		s.fail(ctx, span, "user create failed", oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err))
		return RegisterResult{}
	}

	span.SetAttributes(attribute.String("outcome", "ok"))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return RegisterResult{OK: true}
}

// Login authenticates by email or username and password.
// Checks run in order and the first failure is returned alone.
// On success the refresh token is handed to cookie.
func (s *Service) Login(ctx context.Context, cookie RefreshCookie, emailOrUsername, password string) LoginResult {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	identifier := strings.TrimSpace(emailOrUsername)
	if identifier == "" {
		span.SetAttributes(attribute.String("outcome", "invalid"))
		return LoginResult{Errors: []FieldError{{Field: FieldEmail, Message: MsgEmailRequired}}}
	}

	user, err := s.users.FindByEmailOrUsernameKey(ctx, identifier, strings.ToLower(identifier))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			span.SetAttributes(attribute.String("outcome", "not_found"))
			return LoginResult{Errors: []FieldError{{Field: FieldEmail, Message: MsgAccountNotFound}}}
		}
		s.fail(ctx, span, "login lookup failed", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user").
			Wrap(err))
		return LoginResult{}
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.fail(ctx, span, "password verification failed", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err))
		return LoginResult{}
	}
	if !valid {
		span.SetAttributes(attribute.String("outcome", "wrong_password"))
		return LoginResult{Errors: []FieldError{{Field: FieldPassword, Message: MsgPasswordWrong}}}
	}

	s.upgradeHash(ctx, user, password)

	access, refresh, err := s.issuePair(user)
	if err != nil {
		s.fail(ctx, span, "token issuance failed", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue tokens").
			With("user_id", user.ID.String()).
			Wrap(err))
		return LoginResult{}
	}

	cookie.SetRefreshToken(refresh)
	span.SetAttributes(attribute.String("outcome", "ok"))
	s.logger.DebugContext(ctx, "user logged in", "user_id", user.ID.String())
	return LoginResult{OK: true, AccessToken: access, User: user}
}

// Refresh exchanges a refresh token for a new access token and rotates the
// refresh token. Any failure yields OK=false with an empty access token.
func (s *Service) Refresh(ctx context.Context, cookie RefreshCookie, token string) RefreshResult {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	if token == "" {
		span.SetAttributes(attribute.String("outcome", "missing"))
		return RefreshResult{}
	}

	claims, err := s.tokens.VerifyRefresh(token)
	if err != nil {
		span.SetAttributes(attribute.String("outcome", "invalid"))
		s.logger.DebugContext(ctx, "refresh token rejected", "error", err)
		return RefreshResult{}
	}

	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		span.SetAttributes(attribute.String("outcome", "invalid"))
		return RefreshResult{}
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			span.SetAttributes(attribute.String("outcome", "not_found"))
			return RefreshResult{}
		}
		s.fail(ctx, span, "refresh lookup failed", oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "find user").
			With("user_id", claims.UserID).
			Wrap(err))
		return RefreshResult{Failed: true}
	}

	if claims.TokenVersion != user.TokenVersion {
		span.SetAttributes(attribute.String("outcome", "revoked"))
		return RefreshResult{}
	}

	access, refresh, err := s.issuePair(user)
	if err != nil {
		s.fail(ctx, span, "token issuance failed", oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue tokens").
			With("user_id", claims.UserID).
			Wrap(err))
		return RefreshResult{Failed: true}
	}

	cookie.SetRefreshToken(refresh)
	span.SetAttributes(attribute.String("outcome", "ok"))
	return RefreshResult{OK: true, AccessToken: access}
}

// RevokeAllSessions invalidates every refresh token issued to the user so far.
// Access tokens already issued stay valid until they expire.
// An unknown user returns an error wrapping ErrNotFound.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "auth.RevokeAllSessions")
	defer span.End()

	id, err := ulid.Parse(userID)
	if err != nil {
		return false, oops.Code("USER_NOT_FOUND").
			With("user_id", userID).
			Wrap(ErrNotFound)
	}

	user, err := s.users.IncrementTokenVersion(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code("USER_NOT_FOUND").
				With("user_id", userID).
				Wrap(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "revoke failed")
		return false, oops.Code("AUTH_REVOKE_FAILED").
			With("operation", "increment token version").
			With("user_id", userID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "sessions revoked",
		"user_id", userID,
		"token_version", user.TokenVersion,
	)
	return true, nil
}

// Logout clears the refresh cookie. It does not revoke anything server side.
func (s *Service) Logout(cookie RefreshCookie) bool {
	cookie.ClearRefreshToken()
	return true
}

// Authenticate resolves the user ID carried by a bearer access token.
func (s *Service) Authenticate(authorization string) (string, bool) {
	token, ok := ParseBearer(authorization)
	if !ok {
		return "", false
	}
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// Me returns the user identified by the bearer access token, or nil when the
// header is absent or the token does not verify.
func (s *Service) Me(ctx context.Context, authorization string) (*User, error) {
	userID, ok := s.Authenticate(authorization)
	if !ok {
		return nil, nil
	}
	id, err := ulid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_ME_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return user, nil
}

// Users lists every account.
func (s *Service) Users(ctx context.Context) ([]*User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_USERS_FAILED").Wrap(err)
	}
	return users, nil
}

// Hello greets an authenticated caller by user ID.
func (s *Service) Hello(userID string) string {
	return "Your user id is: " + userID
}

// upgradeHash rewrites an outdated password hash after a successful login.
// Failures are logged and never fail the login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	up, ok := s.hasher.(HashUpgrader)
	if !ok || !up.NeedsUpgrade(user.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password rehash failed", oops.Code("AUTH_REHASH_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err))
		return
	}
	user.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

func (s *Service) issuePair(user *User) (access, refresh string, err error) {
	access, err = s.tokens.IssueAccess(user)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.tokens.IssueRefresh(user)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	errutil.LogErrorContext(ctx, s.logger, msg, err)
}

func conflictFieldError(field string) FieldError {
	if field == FieldUsername {
		return FieldError{Field: FieldUsername, Message: MsgUsernameTaken}
	}
	return FieldError{Field: FieldEmail, Message: MsgEmailTaken}
}
