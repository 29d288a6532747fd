//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knat-dev/jwtserver/internal/store"
)

var _ = Describe("Migrator against PostgreSQL", Ordered, func() {
	var (
		ctx         context.Context
		pgContainer *postgres.PostgresContainer
		connStr     string
		migrator    *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		pgContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("jwtserver_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
	})

	It("starts at version zero", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("applies every embedded migration", func() {
		Expect(migrator.Up()).To(Succeed())

		all, err := store.MigrationVersions()
		Expect(err).NotTo(HaveOccurred())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(Equal(all[len(all)-1]))
		Expect(status.Pending).To(BeEmpty())
	})

	It("treats a second Up as a no-op", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("creates a usable users table", func() {
		pool, err := store.Connect(ctx, connStr, 3)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		var count int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count)).To(Succeed())
		Expect(count).To(BeZero())
	})

	It("steps back and forward", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
	})

	It("rolls everything back with Down", func() {
		Expect(migrator.Down()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Force(1)).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())

		pool, err := pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		var exists bool
		Expect(pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'users')`,
		).Scan(&exists)).To(Succeed())
		Expect(exists).To(BeFalse(), "Force must not run the migration")
	})
})
