// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pygmalion/accounts/internal/config"
	"github.com/pygmalion/accounts/internal/logging"
)

// serviceName tags every log record.
const serviceName = "accounts"

// NewRootCmd creates the root command for the accounts CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Pygmalion accounts - credential and session management",
		Long: `Manage Pygmalion accounts: registration and email verification,
password resets, refresh token rotation, and admin account operations.

Configuration is read from built-in defaults, then the --config YAML file,
then the DATABASE_URL environment variable, then explicit flags.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newWorkerCmd(deps))
	cmd.AddCommand(newAccountCmd(deps))
	cmd.AddCommand(newTokenCmd(deps))
	cmd.AddCommand(newStatusCmd(deps))
	cmd.AddCommand(newConfigCmd(deps))

	return cmd
}

// loadRuntime reads the configuration and builds the command's logger.
// Logs go to the command's error stream so stdout stays machine-readable.
func loadRuntime(cmd *cobra.Command, deps *Deps) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags(), deps.Getenv)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openApp loads the runtime and wires the services. Callers must Close the app.
func openApp(cmd *cobra.Command, deps *Deps) (*app, error) {
	cfg, logger, err := loadRuntime(cmd, deps)
	if err != nil {
		return nil, err
	}
	return buildApp(cmd.Context(), cfg, deps, logger)
}
