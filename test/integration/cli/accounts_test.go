// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

//go:build integration

package cli_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Accounts CLI", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
		output, err := accounts(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
	})

	Describe("migrate", func() {
		It("reports the latest schema with nothing pending", func() {
			output, err := accounts(ctx, "migrate", "status")
			Expect(err).NotTo(HaveOccurred(), "migrate status failed: %s", output)
			Expect(output).To(ContainSubstring("000003_admin_bootstrap"))
			Expect(output).To(ContainSubstring("Pending: none"))
		})

		It("rolls back one step and reapplies it", func() {
			output, err := accounts(ctx, "migrate", "down")
			Expect(err).NotTo(HaveOccurred(), "migrate down failed: %s", output)

			output, err = accounts(ctx, "migrate", "status")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(ContainSubstring("3 000003_admin_bootstrap"))

			output, err = accounts(ctx, "migrate", "up")
			Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
		})
	})

	Describe("account administration", func() {
		It("creates accounts and protects the last admin", func() {
			output, err := accounts(ctx, "account", "create", "--email", "root@example.com", "--password", "pw-root", "--role", "Admin")
			Expect(err).NotTo(HaveOccurred(), "create failed: %s", output)
			Expect(output).To(ContainSubstring(`"email": "root@example.com"`))

			var id string
			err = env.pool.QueryRow(ctx, "SELECT id FROM accounts WHERE email = $1", "root@example.com").Scan(&id)
			Expect(err).NotTo(HaveOccurred())

			output, err = accounts(ctx, "account", "set-role", id, "User")
			Expect(err).To(HaveOccurred())
			Expect(output).To(ContainSubstring("last admin"))

			output, err = accounts(ctx, "account", "create", "--email", "ROOT@example.com", "--password", "pw")
			Expect(err).To(HaveOccurred(), "duplicate email was accepted: %s", output)

			output, err = accounts(ctx, "status", "--json")
			Expect(err).NotTo(HaveOccurred(), "status failed: %s", output)
			Expect(output).To(ContainSubstring(`"database": "ok"`))
			Expect(output).To(ContainSubstring(`"accounts": 1`))
		})

		It("logs in and rotates a refresh token", func() {
			output, err := accounts(ctx, "account", "create", "--email", "judge@example.com", "--password", "pw-judge", "--role", "Judge")
			Expect(err).NotTo(HaveOccurred(), "create failed: %s", output)

			output, err = accounts(ctx, "account", "login", "--email", "judge@example.com", "--password", "pw-judge", "--ip", "10.1.1.1")
			Expect(err).NotTo(HaveOccurred(), "login failed: %s", output)
			Expect(output).To(ContainSubstring("refreshToken"))

			var count int
			err = env.pool.QueryRow(ctx,
				"SELECT COUNT(*) FROM refresh_tokens WHERE created_by_ip = $1 AND revoked_at IS NULL", "10.1.1.1",
			).Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})
})
