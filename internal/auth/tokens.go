// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenConfig holds the signing secrets and lifetimes for both token classes.
// Rotating a secret invalidates every outstanding token of that class.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Validate checks that both secrets are set and distinct and both TTLs are positive.
// Zero TTLs are replaced with the defaults by NewTokenService before validation.
func (c TokenConfig) Validate() error {
	if c.AccessSecret == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access secret is required")
	}
	if c.RefreshSecret == "" {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh secret is required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").With("access_ttl", c.AccessTTL).Errorf("access TTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").With("refresh_ttl", c.RefreshTTL).Errorf("refresh TTL must be positive")
	}
	return nil
}

// AccessClaims is the payload of an access token: {userId, exp}.
type AccessClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token: {userId, tokenVersion, exp}.
type RefreshClaims struct {
	UserID       string `json:"userId"`
	TokenVersion int    `json:"tokenVersion"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256-signed access and refresh tokens.
// It holds no user state; the refresh version check belongs to the caller.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService from cfg.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs an access token for user.
func (s *TokenService) IssueAccess(user *User) (string, error) {
	claims := AccessClaims{
		UserID: user.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("kind", "access").Wrap(err)
	}
	return signed, nil
}

// IssueRefresh signs a refresh token carrying the user's current token version.
func (s *TokenService) IssueRefresh(user *User) (string, error) {
	claims := RefreshClaims{
		UserID:       user.ID.String(),
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.refreshTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("kind", "refresh").Wrap(err)
	}
	return signed, nil
}

// VerifyAccess parses and validates an access token.
// Every failure wraps ErrInvalidToken.
func (s *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(token, claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, invalidToken("access", "missing userId")
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token.
// The caller must still compare TokenVersion with the stored user.
func (s *TokenService) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(token, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, invalidToken("refresh", "missing userId")
	}
	return claims, nil
}

func (s *TokenService) parse(token string, claims jwt.Claims, secret []byte) error {
	if token == "" {
		return invalidToken("", "empty token")
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return oops.Code("AUTH_INVALID_TOKEN").Wrap(errors.Join(ErrInvalidToken, err))
	}
	if !parsed.Valid {
		return invalidToken("", "token not valid")
	}
	return nil
}

func invalidToken(kind, reason string) error {
	return oops.Code("AUTH_INVALID_TOKEN").
		With("kind", kind).
		With("reason", reason).
		Wrap(ErrInvalidToken)
}
