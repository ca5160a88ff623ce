// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pygmalion/accounts/internal/store"
)

// newMigrateCmd creates the migrate command group.
func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the accounts database schema",
		Long: `Apply, roll back, or inspect the embedded schema migrations.
Running "migrate" with no subcommand applies all pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	})
	cmd.AddCommand(newMigrateDownCmd(deps))
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, deps)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Mark the schema as being at VERSION and clear the dirty flag.
Use this to recover after a failed migration has been repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateForce(cmd, deps, args[0])
		},
	})

	return cmd
}

func newMigrateDownCmd(deps *Deps) *cobra.Command {
	var steps int
	var all bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the most recent migration, --steps of them, or --all.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be positive")
			}
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				if all {
					cmd.Println("Rolling back all migrations...")
					if err := m.Down(); err != nil {
						return oops.Code("MIGRATION_FAILED").With("operation", "roll back all migrations").Wrap(err)
					}
				} else {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					if err := m.Steps(-steps); err != nil {
						return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").With("steps", steps).Wrap(err)
					}
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")

	return cmd
}

func runMigrateUp(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m SchemaMigrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m SchemaMigrator) error {
		status, err := m.Status()
		if err != nil {
			return oops.Code("MIGRATION_STATUS_FAILED").With("operation", "read migration status").Wrap(err)
		}
		cmd.Println(formatMigrationStatus(status))
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, deps *Deps, arg string) error {
	version, err := parseForceVersion(arg)
	if err != nil {
		return err
	}
	return withMigrator(cmd, deps, func(m SchemaMigrator) error {
		if err := m.Force(version); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "force version").With("version", version).Wrap(err)
		}
		cmd.Printf("Schema version forced to %d\n", version)
		return nil
	})
}

// withMigrator opens a migrator for the configured database, runs fn, and
// closes it.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(SchemaMigrator) error) error {
	cfg, logger, err := loadRuntime(cmd, deps)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	return fn(m)
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return version, nil
}

func formatMigrationStatus(s *store.Status) string {
	var b strings.Builder
	switch {
	case s.Version == 0:
		b.WriteString("Schema version: none (no migrations applied)\n")
	default:
		fmt.Fprintf(&b, "Schema version: %d (%s)\n", s.Version, s.Name)
	}
	if s.Dirty {
		b.WriteString("State: DIRTY - repair the database, then run 'migrate force'\n")
	}
	if len(s.Pending) == 0 {
		b.WriteString("Pending: none")
		return b.String()
	}
	b.WriteString("Pending:")
	for _, v := range s.Pending {
		name, err := store.MigrationName(v)
		if err != nil {
			name = "unknown"
		}
		fmt.Fprintf(&b, "\n  %d %s", v, name)
	}
	return b.String()
}
