// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// migrateIface is the part of *migrate.Migrate the Migrator drives.
// Tests substitute a fake so no database is needed.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// MigrationStatus summarizes the schema state for the migrate status command.
type MigrationStatus struct {
	Current uint
	Dirty   bool
	Applied []uint
	Pending []uint
}

// NewMigrator opens a migrator against databaseURL.
// postgres:// and postgresql:// URLs are rewritten to the pgx5:// scheme
// expected by the golang-migrate pgx/v5 driver.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}

	return &Migrator{m: m}, nil
}

func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies all pending migrations. Already being current is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls every migration back, dropping the users table and its data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps applies n migrations; negative n rolls back.
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the applied version and dirty flag; 0 when nothing is applied.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything.
// It is the recovery path after a migration left the schema dirty.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Status reports the current version alongside applied and pending migrations.
func (m *Migrator) Status() (MigrationStatus, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return MigrationStatus{}, err
	}

	all, err := MigrationVersions()
	if err != nil {
		return MigrationStatus{}, err
	}

	status := MigrationStatus{Current: current, Dirty: dirty}
	for _, v := range all {
		if v <= current {
			status.Applied = append(status.Applied, v)
		} else {
			status.Pending = append(status.Pending, v)
		}
	}
	return status, nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	switch {
	case srcErr != nil && dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	case srcErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	case dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// MigrationVersions lists the embedded migration versions in ascending order.
// Files not named NNNNNN_name.up.sql are skipped with a warning.
func MigrationVersions() ([]uint, error) {
	return migrationVersions(migrationsFS)
}

func migrationVersions(fsys fs.ReadDirFS) ([]uint, error) {
	entries, err := fsys.ReadDir(migrationsDir)
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	seen := make(map[uint]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d_", &version); err != nil {
			slog.Warn("skipping migration with unexpected name",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		seen[version] = struct{}{}
	}

	versions := make([]uint, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// MigrationName returns the NNNNNN_name of version, or "" if there is none.
func MigrationName(version uint) (string, error) {
	entries, err := migrationsFS.ReadDir(migrationsDir)
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".up.sql") {
			return strings.TrimSuffix(name, ".up.sql"), nil
		}
	}
	return "", nil
}
