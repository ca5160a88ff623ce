// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pygmalion/accounts/internal/auth"
)

// StatusReport summarizes the health of the accounts database.
type StatusReport struct {
	Database      string           `json:"database"`
	SchemaVersion uint             `json:"schema_version"`
	SchemaName    string           `json:"schema_name,omitempty"`
	Dirty         bool             `json:"dirty,omitempty"`
	Pending       []uint           `json:"pending,omitempty"`
	Accounts      int64            `json:"accounts"`
	ByRole        map[string]int64 `json:"by_role,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd(deps *Deps) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database, schema and account status",
		Long: `Check that the database is reachable, report the schema version and
any pending migrations, and count accounts by role.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command. Problems are reported in the
// output rather than as an error.
func runStatus(cmd *cobra.Command, cfg *statusConfig, deps *Deps) error {
	report := collectStatus(cmd, deps)

	if cfg.jsonOutput {
		output, err := formatStatusJSON(report)
		if err != nil {
			return err
		}
		cmd.Println(output)
		return nil
	}

	cmd.Println(formatStatusTable(report))
	return nil
}

func collectStatus(cmd *cobra.Command, deps *Deps) StatusReport {
	report := StatusReport{Database: "unreachable"}

	a, err := openApp(cmd, deps)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer a.Close()

	if a.stores.Ready != nil && !a.stores.Ready() {
		report.Error = "database did not answer a ping"
		return report
	}
	report.Database = "ok"

	if m, err := deps.MigratorFactory(a.cfg.Database.URL); err != nil {
		report.Error = fmt.Sprintf("schema status unavailable: %v", err)
	} else {
		if status, err := m.Status(); err != nil {
			report.Error = fmt.Sprintf("schema status unavailable: %v", err)
		} else {
			report.SchemaVersion = status.Version
			report.SchemaName = status.Name
			report.Dirty = status.Dirty
			report.Pending = status.Pending
		}
		if closeErr := m.Close(); closeErr != nil {
			a.logger.Warn("failed to close migrator", "error", closeErr)
		}
	}

	ctx := cmd.Context()
	total, err := a.stores.Accounts.Count(ctx)
	if err != nil {
		report.Error = fmt.Sprintf("account count unavailable: %v", err)
		return report
	}
	report.Accounts = total
	report.ByRole = make(map[string]int64, 3)
	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleUser, auth.RoleJudge} {
		n, err := a.stores.Accounts.CountByRole(ctx, role)
		if err != nil {
			report.Error = fmt.Sprintf("role count unavailable: %v", err)
			return report
		}
		report.ByRole[string(role)] = n
	}
	return report
}

// formatStatusTable formats the report as a human-readable table.
func formatStatusTable(r StatusReport) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "DATABASE\t%s\n", r.Database)
	if r.Database == "ok" {
		schema := "none"
		if r.SchemaVersion > 0 {
			schema = fmt.Sprintf("%d (%s)", r.SchemaVersion, r.SchemaName)
		}
		if r.Dirty {
			schema += " DIRTY"
		}
		_, _ = fmt.Fprintf(w, "SCHEMA\t%s\n", schema)
		_, _ = fmt.Fprintf(w, "PENDING\t%d\n", len(r.Pending))
		_, _ = fmt.Fprintf(w, "ACCOUNTS\t%d\n", r.Accounts)
		for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleUser, auth.RoleJudge} {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", role, r.ByRole[string(role)])
		}
	}
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "ERROR\t%s\n", r.Error)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the report as JSON.
func formatStatusJSON(r StatusReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}
