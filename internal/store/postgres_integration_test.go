// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

//go:build integration

package store_test

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/pygmalion/accounts/internal/store"
)

var _ = Describe("Schema", Ordered, func() {
	var (
		ctx     context.Context
		pool    *pgxpool.Pool
		cleanup func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr, stop, err := startPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())
		cleanup = stop

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{}, slog.New(slog.DiscardHandler))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if cleanup != nil {
			cleanup()
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, `TRUNCATE accounts, admin_bootstrap CASCADE`)
		Expect(err).NotTo(HaveOccurred())
	})

	insertAccount := func(id, email, role string) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO accounts (id, email, password_hash, role, created_at, updated_at)
			VALUES ($1, $2, 'hash', $3, now(), now())`, id, email, role)
		return err
	}

	It("reports ready once connected", func() {
		Expect(store.ReadinessCheck(pool, time.Second)()).To(BeTrue())
	})

	It("rejects emails differing only in case", func() {
		Expect(insertAccount("01J00000000000000000000001", "ana@example.com", "User")).To(Succeed())
		Expect(insertAccount("01J00000000000000000000002", "ANA@example.com", "User")).NotTo(Succeed())
	})

	It("allows reusing the email of a soft-deleted account", func() {
		Expect(insertAccount("01J00000000000000000000001", "ana@example.com", "User")).To(Succeed())
		_, err := pool.Exec(ctx, `UPDATE accounts SET deleted_at = now() WHERE id = $1`, "01J00000000000000000000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(insertAccount("01J00000000000000000000002", "ana@example.com", "User")).To(Succeed())
	})

	It("rejects unknown roles", func() {
		Expect(insertAccount("01J00000000000000000000001", "ana@example.com", "Root")).NotTo(Succeed())
	})

	It("keeps a single bootstrap row", func() {
		Expect(insertAccount("01J00000000000000000000001", "ana@example.com", "Admin")).To(Succeed())
		_, err := pool.Exec(ctx, `INSERT INTO admin_bootstrap (account_id) VALUES ($1)`, "01J00000000000000000000001")
		Expect(err).NotTo(HaveOccurred())

		tag, err := pool.Exec(ctx, `INSERT INTO admin_bootstrap (account_id) VALUES ($1) ON CONFLICT DO NOTHING`, "01J00000000000000000000002")
		Expect(err).NotTo(HaveOccurred())
		Expect(tag.RowsAffected()).To(BeZero())
	})

	It("cascades refresh tokens when an account row is removed", func() {
		Expect(insertAccount("01J00000000000000000000001", "ana@example.com", "User")).To(Succeed())
		_, err := pool.Exec(ctx, `
			INSERT INTO refresh_tokens (id, account_id, token_hash, created_at, expires_at, created_by_ip)
			VALUES ('01J0000000000000000000000T', '01J00000000000000000000001', 'h', now(), now() + interval '1 day', '')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, "01J00000000000000000000001")
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})
})
