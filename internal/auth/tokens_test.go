// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/pkg/errutil"
)

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
)

func testTokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	}
}

func newTestTokens(t *testing.T, opts ...auth.TokenOption) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(testTokenConfig(), opts...)
	require.NoError(t, err)
	return svc
}

func testUser(version int) *auth.User {
	return &auth.User{
		ID:           ulid.Make(),
		Email:        "a@b.com",
		Username:     "alice",
		UsernameKey:  "alice",
		PasswordHash: "$2a$04$notused",
		TokenVersion: version,
	}
}

// payload decodes the claims segment of a compact JWS.
func payload(t *testing.T, token string) map[string]any {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestNewTokenService_Defaults(t *testing.T) {
	svc := newTestTokens(t)
	assert.Equal(t, 15*time.Minute, svc.AccessTTL())
	assert.Equal(t, 7*24*time.Hour, svc.RefreshTTL())
}

func TestTokenConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auth.TokenConfig)
	}{
		{"missing access secret", func(c *auth.TokenConfig) { c.AccessSecret = "" }},
		{"missing refresh secret", func(c *auth.TokenConfig) { c.RefreshSecret = "" }},
		{"identical secrets", func(c *auth.TokenConfig) { c.RefreshSecret = c.AccessSecret }},
		{"negative access ttl", func(c *auth.TokenConfig) { c.AccessTTL = -time.Second }},
		{"negative refresh ttl", func(c *auth.TokenConfig) { c.RefreshTTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTokenConfig()
			tt.mutate(&cfg)
			_, err := auth.NewTokenService(cfg)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
		})
	}
}

func TestTokenService_AccessRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := newTestTokens(t, auth.WithClock(func() time.Time { return now }))
	user := testUser(0)

	token, err := svc.IssueAccess(user)
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, now.Add(15*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenService_RefreshRoundTrip(t *testing.T) {
	svc := newTestTokens(t)
	user := testUser(4)

	token, err := svc.IssueRefresh(user)
	require.NoError(t, err)

	claims, err := svc.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, 4, claims.TokenVersion)
}

func TestTokenService_PayloadShape(t *testing.T) {
	svc := newTestTokens(t)
	user := testUser(2)

	access, err := svc.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := svc.IssueRefresh(user)
	require.NoError(t, err)

	accessClaims := payload(t, access)
	assert.Len(t, accessClaims, 2)
	assert.Equal(t, user.ID.String(), accessClaims["userId"])
	assert.Contains(t, accessClaims, "exp")

	refreshClaims := payload(t, refresh)
	assert.Len(t, refreshClaims, 3)
	assert.Equal(t, user.ID.String(), refreshClaims["userId"])
	assert.EqualValues(t, 2, refreshClaims["tokenVersion"])
	assert.Contains(t, refreshClaims, "exp")
}

func TestTokenService_Expiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := issued
	svc := newTestTokens(t, auth.WithClock(func() time.Time { return now }))
	user := testUser(0)

	access, err := svc.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := svc.IssueRefresh(user)
	require.NoError(t, err)

	now = issued.Add(14 * time.Minute)
	_, err = svc.VerifyAccess(access)
	require.NoError(t, err, "access token valid before 15 minutes")

	now = issued.Add(16 * time.Minute)
	_, err = svc.VerifyAccess(access)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = svc.VerifyRefresh(refresh)
	require.NoError(t, err, "refresh token outlives access token")

	now = issued.Add(7*24*time.Hour + time.Minute)
	_, err = svc.VerifyRefresh(refresh)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOKEN")
}

func TestTokenService_Rejects(t *testing.T) {
	svc := newTestTokens(t)
	user := testUser(0)

	access, err := svc.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := svc.IssueRefresh(user)
	require.NoError(t, err)

	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	sign := func(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		verify func() error
	}{
		{"empty access token", func() error { _, err := svc.VerifyAccess(""); return err }},
		{"garbage", func() error { _, err := svc.VerifyAccess("not.a.jwt"); return err }},
		{"refresh token used as access", func() error { _, err := svc.VerifyAccess(refresh); return err }},
		{"access token used as refresh", func() error { _, err := svc.VerifyRefresh(access); return err }},
		{"tampered signature", func() error {
			parts := strings.Split(access, ".")
			swap := "A"
			if strings.HasPrefix(parts[2], "A") {
				swap = "B"
			}
			parts[2] = swap + parts[2][1:]
			_, err := svc.VerifyAccess(strings.Join(parts, "."))
			return err
		}},
		{"alg none", func() error {
			tok := sign(t, jwt.SigningMethodNone,
				auth.AccessClaims{UserID: user.ID.String(), RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}},
				jwt.UnsafeAllowNoneSignatureType)
			_, err := svc.VerifyAccess(tok)
			return err
		}},
		{"HS512 with the right secret", func() error {
			tok := sign(t, jwt.SigningMethodHS512,
				auth.AccessClaims{UserID: user.ID.String(), RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}},
				[]byte(testAccessSecret))
			_, err := svc.VerifyAccess(tok)
			return err
		}},
		{"missing exp", func() error {
			tok := sign(t, jwt.SigningMethodHS256, auth.AccessClaims{UserID: user.ID.String()}, []byte(testAccessSecret))
			_, err := svc.VerifyAccess(tok)
			return err
		}},
		{"missing userId", func() error {
			tok := sign(t, jwt.SigningMethodHS256,
				auth.RefreshClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}},
				[]byte(testRefreshSecret))
			_, err := svc.VerifyRefresh(tok)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verify()
			require.Error(t, err)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOKEN")
		})
	}
}
