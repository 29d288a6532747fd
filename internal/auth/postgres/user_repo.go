// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package postgres implements auth repositories on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/knat-dev/jwtserver/internal/auth"
)

// Unique constraint names from the users migration.
const (
	constraintEmail       = "users_email_unique"
	constraintUsernameKey = "users_username_key_unique"
)

const userColumns = `id, email, username, username_key, password_hash, token_version, created_at, updated_at`

// DBTX is the subset of *pgxpool.Pool used by the repositories.
// pgxmock.PgxPoolIface satisfies it for unit tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmailOrUsernameKey retrieves the user matching either value.
// An email match is preferred when both columns match different rows.
func (r *UserRepository) FindByEmailOrUsernameKey(ctx context.Context, email, usernameKey string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 OR username_key = $2
		ORDER BY (email = $1) DESC
		LIMIT 1
	`, email, usernameKey)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			With("username_key", usernameKey).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "find user by email or username").
			Wrap(err)
	}
	return user, nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// Create stores a new user. Unique violations map to *auth.ConflictError.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.UsernameKey,
		user.PasswordHash,
		user.TokenVersion,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		field := auth.FieldUsername
		if pgErr.ConstraintName == constraintEmail {
			field = auth.FieldEmail
		}
		return oops.Code("USER_CONFLICT").
			With("field", field).
			With("constraint", pgErr.ConstraintName).
			Wrap(&auth.ConflictError{Field: field})
	}
	return oops.Code("USER_CREATE_FAILED").
		With("operation", "insert user").
		With("id", user.ID.String()).
		Wrap(err)
}

// IncrementTokenVersion bumps token_version in a single UPDATE so concurrent
// revocations never lose an increment.
func (r *UserRepository) IncrementTokenVersion(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users
		SET token_version = token_version + 1, updated_at = $2
		WHERE id = $1
		RETURNING `+userColumns,
		id.String(), time.Now().UTC())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_INCREMENT_VERSION_FAILED").
			With("operation", "increment token version").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored hash, leaving token_version alone.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), hash, time.Now().UTC())
	if err != nil {
		return oops.Code("USER_UPDATE_HASH_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// List returns all users ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "list users").Wrap(err)
	}
	defer rows.Close()

	users := make([]*auth.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_FAILED").With("operation", "scan user row").Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		u     auth.User
	)
	if err := row.Scan(
		&idStr,
		&u.Email,
		&u.Username,
		&u.UsernameKey,
		&u.PasswordHash,
		&u.TokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	u.ID = id
	return &u, nil
}
