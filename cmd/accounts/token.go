// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"github.com/spf13/cobra"
)

// newTokenCmd creates the token command group.
func newTokenCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Rotate, revoke and inspect refresh tokens",
	}

	cmd.AddCommand(
		newTokenRefreshCmd(deps),
		newTokenRevokeCmd(deps),
		newTokenLineageCmd(deps),
	)

	return cmd
}

func newTokenRefreshCmd(deps *Deps) *cobra.Command {
	var ip string
	cmd := &cobra.Command{
		Use:   "refresh TOKEN",
		Short: "Exchange a refresh token for a new session",
		Long: `Revoke TOKEN and print a new access token and refresh token.
Presenting a token that was already rotated revokes the tokens issued after it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.requireTokens(); err != nil {
					return err
				}
				result, err := a.rotator.Refresh(cmd.Context(), args[0], ip)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "client address recorded on the new token")
	return cmd
}

func newTokenRevokeCmd(deps *Deps) *cobra.Command {
	var ip string
	cmd := &cobra.Command{
		Use:   "revoke TOKEN",
		Short: "Revoke a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.requireTokens(); err != nil {
					return err
				}
				if err := a.rotator.Revoke(cmd.Context(), args[0], ip); err != nil {
					return err
				}
				cmd.Println("Token revoked")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "address recorded as the revoker")
	return cmd
}

func newTokenLineageCmd(deps *Deps) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "lineage TOKEN",
		Short: "Show the rotation chain that starts at a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.requireTokens(); err != nil {
					return err
				}
				chain, err := a.rotator.Lineage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				views := viewTokens(chain, deps.Clock())
				if jsonOutput {
					return printJSON(cmd, views)
				}
				printTokens(cmd, views)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
