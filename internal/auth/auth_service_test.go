// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/internal/auth/mocks"
	"github.com/knat-dev/jwtserver/pkg/errutil"
)

type serviceFixture struct {
	users  *mocks.MockUserRepository
	hasher *mocks.MockPasswordHasher
	cookie *mocks.MockRefreshCookie
	tokens *auth.TokenService
	svc    *auth.Service
}

func newServiceFixture(t *testing.T, opts ...auth.ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:  mocks.NewMockUserRepository(t),
		hasher: mocks.NewMockPasswordHasher(t),
		cookie: mocks.NewMockRefreshCookie(t),
		tokens: newTestTokens(t),
	}
	opts = append([]auth.ServiceOption{auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	svc, err := auth.NewAuthService(f.users, f.hasher, f.tokens, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func notFound() error {
	return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tokens := newTestTokens(t)

	tests := []struct {
		name        string
		users       auth.UserRepository
		hasher      auth.PasswordHasher
		tokens      *auth.TokenService
		opts        []auth.ServiceOption
		expectError string
	}{
		{
			name:        "nil users repository",
			hasher:      mocks.NewMockPasswordHasher(t),
			tokens:      tokens,
			expectError: "users repository is required",
		},
		{
			name:        "nil password hasher",
			users:       mocks.NewMockUserRepository(t),
			tokens:      tokens,
			expectError: "password hasher is required",
		},
		{
			name:        "nil token service",
			users:       mocks.NewMockUserRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "token service is required",
		},
		{
			name:        "nil logger",
			users:       mocks.NewMockUserRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			tokens:      tokens,
			opts:        []auth.ServiceOption{auth.WithLogger(nil)},
			expectError: "logger is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.users, tt.hasher, tt.tokens, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
			errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("reports every validation error without touching storage", func(t *testing.T) {
		f := newServiceFixture(t)

		res := f.svc.Register(ctx, "not-an-email", "ab", "")
		assert.False(t, res.OK)
		assert.Equal(t, []auth.FieldError{
			{Field: auth.FieldEmail, Message: auth.MsgEmailInvalid},
			{Field: auth.FieldUsername, Message: auth.MsgUsernameLength},
			{Field: auth.FieldPassword, Message: auth.MsgPasswordRequired},
		}, res.Errors)
	})

	t.Run("applies the configured password policy", func(t *testing.T) {
		f := newServiceFixture(t, auth.WithPasswordPolicy(auth.PasswordPolicy{MinLength: 8}))

		res := f.svc.Register(ctx, "a@b.com", "alice", "short")
		require.Len(t, res.Errors, 1)
		assert.Equal(t, auth.FieldPassword, res.Errors[0].Field)
	})

	t.Run("creates user with trimmed fields and lowercase key", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").Return(nil, notFound())
		f.hasher.EXPECT().Hash("secret").Return("hashed-secret", nil)
		f.users.EXPECT().Create(mock.Anything, mock.MatchedBy(func(u *auth.User) bool {
			return u.Email == "a@b.com" &&
				u.Username == "Alice" &&
				u.UsernameKey == "alice" &&
				u.PasswordHash == "hashed-secret" &&
				u.TokenVersion == 0 &&
				u.ID != (ulid.ULID{})
		})).Return(nil)

		res := f.svc.Register(ctx, " a@b.com ", "  Alice ", "secret")
		assert.True(t, res.OK)
		assert.Empty(t, res.Errors)
	})

	t.Run("email already registered", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").
			Return(&auth.User{Email: "a@b.com", UsernameKey: "someone"}, nil)

		res := f.svc.Register(ctx, "a@b.com", "alice", "secret")
		assert.False(t, res.OK)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldEmail, Message: auth.MsgEmailTaken}}, res.Errors)
	})

	t.Run("username already registered in another case", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "new@b.com", "alice").
			Return(&auth.User{Email: "old@b.com", Username: "alice", UsernameKey: "alice"}, nil)

		res := f.svc.Register(ctx, "new@b.com", "ALICE", "secret")
		assert.False(t, res.OK)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}}, res.Errors)
	})

	t.Run("unique violation on create maps to field error", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").Return(nil, notFound())
		f.hasher.EXPECT().Hash("secret").Return("h", nil)
		f.users.EXPECT().Create(mock.Anything, mock.Anything).
			Return(oops.Code("USER_CONFLICT").Wrap(&auth.ConflictError{Field: auth.FieldUsername}))

		res := f.svc.Register(ctx, "a@b.com", "alice", "secret")
		assert.False(t, res.OK)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}}, res.Errors)
	})

	internal := []struct {
		name  string
		setup func(f *serviceFixture)
	}{
		{"lookup failure", func(f *serviceFixture) {
			f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").Return(nil, errors.New("db down"))
		}},
		{"hash failure", func(f *serviceFixture) {
			f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").Return(nil, notFound())
			f.hasher.EXPECT().Hash("secret").Return("", errors.New("rng exhausted"))
		}},
		{"create failure", func(f *serviceFixture) {
			f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "alice").Return(nil, notFound())
			f.hasher.EXPECT().Hash("secret").Return("h", nil)
			f.users.EXPECT().Create(mock.Anything, mock.Anything).Return(errors.New("disk full"))
		}},
	}
	for _, tt := range internal {
		t.Run(tt.name+" is internal", func(t *testing.T) {
			f := newServiceFixture(t)
			tt.setup(f)

			res := f.svc.Register(ctx, "a@b.com", "alice", "secret")
			assert.False(t, res.OK)
			assert.Empty(t, res.Errors)
		})
	}
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("blank identifier", func(t *testing.T) {
		f := newServiceFixture(t)

		res := f.svc.Login(ctx, f.cookie, "  ", "pw")
		assert.False(t, res.OK)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldEmail, Message: auth.MsgEmailRequired}}, res.Errors)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "Ghost", "ghost").Return(nil, notFound())

		res := f.svc.Login(ctx, f.cookie, "Ghost", "pw")
		assert.False(t, res.OK)
		assert.Empty(t, res.AccessToken)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldEmail, Message: auth.MsgAccountNotFound}}, res.Errors)
	})

	t.Run("wrong password sets no cookie", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "a@b.com", "a@b.com").Return(user, nil)
		f.hasher.EXPECT().Verify("wrong", user.PasswordHash).Return(false, nil)

		res := f.svc.Login(ctx, f.cookie, "a@b.com", "wrong")
		assert.False(t, res.OK)
		assert.Nil(t, res.User)
		assert.Equal(t, []auth.FieldError{{Field: auth.FieldPassword, Message: auth.MsgPasswordWrong}}, res.Errors)
	})

	t.Run("success issues both tokens", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(3)
		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "Alice", "alice").Return(user, nil)
		f.hasher.EXPECT().Verify("secret", user.PasswordHash).Return(true, nil)

		var refresh string
		f.cookie.EXPECT().SetRefreshToken(mock.AnythingOfType("string")).Run(func(token string) {
			refresh = token
		}).Once()

		res := f.svc.Login(ctx, f.cookie, "Alice", "secret")
		require.True(t, res.OK)
		assert.Empty(t, res.Errors)
		assert.Same(t, user, res.User)

		access, err := f.tokens.VerifyAccess(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), access.UserID)

		claims, err := f.tokens.VerifyRefresh(refresh)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID)
		assert.Equal(t, 3, claims.TokenVersion)
	})

	t.Run("lookup failure is internal", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "alice", "alice").Return(nil, errors.New("db down"))

		res := f.svc.Login(ctx, f.cookie, "alice", "pw")
		assert.False(t, res.OK)
		assert.Empty(t, res.Errors)
	})

	t.Run("malformed stored hash is internal", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		f.users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "alice", "alice").Return(user, nil)
		f.hasher.EXPECT().Verify("pw", user.PasswordHash).Return(false, errors.New("bad hash"))

		res := f.svc.Login(ctx, f.cookie, "alice", "pw")
		assert.False(t, res.OK)
		assert.Empty(t, res.Errors)
	})
}

func TestService_Login_RehashFailureDoesNotFailLogin(t *testing.T) {
	ctx := context.Background()
	users := mocks.NewMockUserRepository(t)
	cookie := mocks.NewMockRefreshCookie(t)

	hash, err := mustBcrypt(t).Hash("pw")
	require.NoError(t, err)
	user, err := auth.NewUser("a@b.com", "alice", hash)
	require.NoError(t, err)

	stronger, err := auth.NewBcryptHasher(5)
	require.NoError(t, err)
	svc, err := auth.NewAuthService(users, stronger, newTestTokens(t),
		auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	users.EXPECT().FindByEmailOrUsernameKey(mock.Anything, "alice", "alice").Return(user, nil)
	users.EXPECT().UpdatePasswordHash(mock.Anything, user.ID, mock.AnythingOfType("string")).
		Return(errors.New("read-only replica"))
	cookie.EXPECT().SetRefreshToken(mock.AnythingOfType("string")).Once()

	res := svc.Login(ctx, cookie, "alice", "pw")
	require.True(t, res.OK)
	assert.Equal(t, hash, res.User.PasswordHash)
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		f := newServiceFixture(t)
		res := f.svc.Refresh(ctx, f.cookie, "")
		assert.Equal(t, auth.RefreshResult{}, res)
	})

	t.Run("malformed token", func(t *testing.T) {
		f := newServiceFixture(t)
		res := f.svc.Refresh(ctx, f.cookie, "garbage")
		assert.Equal(t, auth.RefreshResult{}, res)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		f := newServiceFixture(t)
		access, err := f.tokens.IssueAccess(testUser(0))
		require.NoError(t, err)

		res := f.svc.Refresh(ctx, f.cookie, access)
		assert.False(t, res.OK)
	})

	t.Run("matching version rotates tokens", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(1)
		token, err := f.tokens.IssueRefresh(user)
		require.NoError(t, err)

		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(user, nil)
		f.cookie.EXPECT().SetRefreshToken(mock.AnythingOfType("string")).Once()

		res := f.svc.Refresh(ctx, f.cookie, token)
		require.True(t, res.OK)
		claims, err := f.tokens.VerifyAccess(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), claims.UserID)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(1)
		token, err := f.tokens.IssueRefresh(user)
		require.NoError(t, err)

		bumped := *user
		bumped.TokenVersion = 2
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(&bumped, nil)

		res := f.svc.Refresh(ctx, f.cookie, token)
		assert.Equal(t, auth.RefreshResult{}, res)
	})

	t.Run("deleted user", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		token, err := f.tokens.IssueRefresh(user)
		require.NoError(t, err)
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(nil, notFound())

		assert.Equal(t, auth.RefreshResult{}, f.svc.Refresh(ctx, f.cookie, token))
	})

	t.Run("lookup failure", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		token, err := f.tokens.IssueRefresh(user)
		require.NoError(t, err)
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(nil, errors.New("db down"))

		res := f.svc.Refresh(ctx, f.cookie, token)
		assert.False(t, res.OK)
		assert.True(t, res.Failed, "storage errors are distinguishable from rejected tokens")
	})

	t.Run("non ULID subject", func(t *testing.T) {
		f := newServiceFixture(t)
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.RefreshClaims{
			UserID:           "not-a-ulid",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}).SignedString([]byte(testRefreshSecret))
		require.NoError(t, err)

		assert.False(t, f.svc.Refresh(ctx, f.cookie, forged).OK)
	})
}

func TestService_RevokeAllSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("increments version", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(1)
		f.users.EXPECT().IncrementTokenVersion(mock.Anything, user.ID).Return(testUser(2), nil)

		ok, err := f.svc.RevokeAllSessions(ctx, user.ID.String())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.users.EXPECT().IncrementTokenVersion(mock.Anything, id).Return(nil, notFound())

		ok, err := f.svc.RevokeAllSessions(ctx, id.String())
		assert.False(t, ok)
		errutil.AssertErrorCodeIs(t, err, "USER_NOT_FOUND", auth.ErrNotFound)
	})

	t.Run("malformed id never reaches storage", func(t *testing.T) {
		f := newServiceFixture(t)

		ok, err := f.svc.RevokeAllSessions(ctx, "not-a-ulid")
		assert.False(t, ok)
		errutil.AssertErrorCodeIs(t, err, "USER_NOT_FOUND", auth.ErrNotFound)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.users.EXPECT().IncrementTokenVersion(mock.Anything, id).Return(nil, errors.New("db down"))

		ok, err := f.svc.RevokeAllSessions(ctx, id.String())
		assert.False(t, ok)
		errutil.AssertErrorCode(t, err, "AUTH_REVOKE_FAILED")
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestService_Logout(t *testing.T) {
	f := newServiceFixture(t)
	f.cookie.EXPECT().ClearRefreshToken().Once()

	assert.True(t, f.svc.Logout(f.cookie))
}

func TestService_Authenticate(t *testing.T) {
	f := newServiceFixture(t)
	user := testUser(0)
	access, err := f.tokens.IssueAccess(user)
	require.NoError(t, err)
	refresh, err := f.tokens.IssueRefresh(user)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		wantID string
		wantOK bool
	}{
		{"valid bearer", "Bearer " + access, user.ID.String(), true},
		{"missing header", "", "", false},
		{"no scheme", access, "", false},
		{"refresh token", "Bearer " + refresh, "", false},
		{"garbage", "Bearer nope", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := f.svc.Authenticate(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestService_Me(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		f := newServiceFixture(t)
		user, err := f.svc.Me(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("authenticated", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		access, err := f.tokens.IssueAccess(user)
		require.NoError(t, err)
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(user, nil)

		got, err := f.svc.Me(ctx, "Bearer "+access)
		require.NoError(t, err)
		assert.Same(t, user, got)
	})

	t.Run("user gone", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		access, err := f.tokens.IssueAccess(user)
		require.NoError(t, err)
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(nil, notFound())

		got, err := f.svc.Me(ctx, "Bearer "+access)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0)
		access, err := f.tokens.IssueAccess(user)
		require.NoError(t, err)
		f.users.EXPECT().FindByID(mock.Anything, user.ID).Return(nil, errors.New("db down"))

		_, err = f.svc.Me(ctx, "Bearer "+access)
		errutil.AssertErrorCode(t, err, "AUTH_ME_FAILED")
	})
}

func TestService_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("lists", func(t *testing.T) {
		f := newServiceFixture(t)
		want := []*auth.User{testUser(0), testUser(1)}
		f.users.EXPECT().List(mock.Anything).Return(want, nil)

		got, err := f.svc.Users(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("wraps failure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.EXPECT().List(mock.Anything).Return(nil, errors.New("db down"))

		_, err := f.svc.Users(ctx)
		errutil.AssertErrorCode(t, err, "AUTH_LIST_USERS_FAILED")
	})
}

func TestService_Hello(t *testing.T) {
	f := newServiceFixture(t)
	assert.Equal(t, "Your user id is: 01ABC", f.svc.Hello("01ABC"))
}
