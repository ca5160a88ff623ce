// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pygmalion/accounts/internal/auth"
)

// newAccountCmd creates the account command group.
func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
		Long: `Administrative account operations and the self-service flows:
registration, email verification, login and password reset.`,
	}

	cmd.AddCommand(
		newAccountListCmd(deps),
		newAccountGetCmd(deps),
		newAccountCreateCmd(deps),
		newAccountUpdateCmd(deps),
		newAccountSetRoleCmd(deps),
		newAccountDeleteCmd(deps),
		newAccountSessionsCmd(deps),
		newAccountRevokeSessionsCmd(deps),
		newAccountRegisterCmd(deps),
		newAccountVerifyCmd(deps),
		newAccountLoginCmd(deps),
		newAccountForgotPasswordCmd(deps),
		newAccountValidateResetCmd(deps),
		newAccountResetPasswordCmd(deps),
	)

	return cmd
}

// withApp opens the services for one command and closes them afterwards.
func withApp(cmd *cobra.Command, deps *Deps, fn func(a *app) error) error {
	a, err := openApp(cmd, deps)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// readPassword returns the flag value, or the first line of stdin when the
// flag is empty.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password is required (--password or stdin)")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password is required (--password or stdin)")
	}
	return password, nil
}

func newAccountListCmd(deps *Deps) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, deps, func(a *app) error {
				accounts, err := a.accounts.List(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, accounts)
				}
				printAccounts(cmd, accounts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newAccountGetCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				account, err := a.accounts.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, account)
			})
		},
	}
}

// profileFlags are shared by create, update and register.
type profileFlags struct {
	email     string
	password  string
	title     string
	firstName string
	lastName  string
}

func (p *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.email, "email", "", "email address")
	cmd.Flags().StringVar(&p.password, "password", "", "password (read from stdin when empty)")
	cmd.Flags().StringVar(&p.title, "title", "", "title")
	cmd.Flags().StringVar(&p.firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&p.lastName, "last-name", "", "last name")
}

func newAccountCreateCmd(deps *Deps) *cobra.Command {
	var p profileFlags
	var role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a verified account",
		Long: `Create an account on behalf of its owner. The account is verified
immediately and no email is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsedRole, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd, p.password)
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				account, err := a.accounts.Create(cmd.Context(), auth.CreateInput{
					Email:     p.email,
					Password:  password,
					Role:      parsedRole,
					Title:     p.title,
					FirstName: p.firstName,
					LastName:  p.lastName,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, account)
			})
		},
	}

	p.register(cmd)
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "role: Admin, User or Judge")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountUpdateCmd(deps *Deps) *cobra.Command {
	var p profileFlags
	var role string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change account fields",
		Long:  `Change only the fields whose flags are given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}

			var in auth.UpdateInput
			flags := cmd.Flags()
			if flags.Changed("email") {
				in.Email = &p.email
			}
			if flags.Changed("password") {
				in.Password = &p.password
			}
			if flags.Changed("title") {
				in.Title = &p.title
			}
			if flags.Changed("first-name") {
				in.FirstName = &p.firstName
			}
			if flags.Changed("last-name") {
				in.LastName = &p.lastName
			}
			if flags.Changed("role") {
				parsed, err := auth.ParseRole(role)
				if err != nil {
					return err
				}
				in.Role = &parsed
			}

			return withApp(cmd, deps, func(a *app) error {
				account, err := a.accounts.Update(cmd.Context(), id, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, account)
			})
		},
	}

	p.register(cmd)
	cmd.Flags().StringVar(&role, "role", "", "role: Admin, User or Judge")
	return cmd
}

func newAccountSetRoleCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role ID ROLE",
		Short: "Change an account's role",
		Long:  `Change an account's role. The last Admin cannot be demoted.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			role, err := auth.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				account, err := a.accounts.Update(cmd.Context(), id, auth.UpdateInput{Role: &role})
				if err != nil {
					return err
				}
				cmd.Printf("Account %s is now %s\n", account.ID, account.Role)
				return nil
			})
		},
	}
}

func newAccountDeleteCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an account",
		Long:  `Delete an account. The last Admin cannot be deleted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				if err := a.accounts.Delete(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Account %s deleted\n", id)
				return nil
			})
		},
	}
}

func newAccountSessionsCmd(deps *Deps) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sessions ID",
		Short: "List an account's refresh tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				tokens, err := a.accounts.Tokens(cmd.Context(), id)
				if err != nil {
					return err
				}
				views := viewTokens(tokens, deps.Clock())
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

func newAccountRevokeSessionsCmd(deps *Deps) *cobra.Command {
	var ip string
	cmd := &cobra.Command{
		Use:   "revoke-sessions ID",
		Short: "Revoke every active refresh token of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				n, err := a.accounts.RevokeAllSessions(cmd.Context(), id, ip)
				if err != nil {
					return err
				}
				cmd.Printf("Revoked %d session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "address recorded as the revoker")
	return cmd
}

func newAccountRegisterCmd(deps *Deps) *cobra.Command {
	var p profileFlags
	var acceptTerms bool
	var origin string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account and send the verification email",
		Long: `Self-service registration. The first account ever registered becomes
an Admin. Registering an email that is taken sends the owner a notice instead;
the command reports success either way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, p.password)
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				err := a.registration.Register(cmd.Context(), auth.RegisterInput{
					Email:       p.email,
					Password:    password,
					Title:       p.title,
					FirstName:   p.firstName,
					LastName:    p.lastName,
					AcceptTerms: acceptTerms,
					Origin:      originOrDefault(origin, a),
				})
				if err != nil {
					return err
				}
				cmd.Println("Registration successful, please check your email for verification instructions")
				return nil
			})
		},
	}

	p.register(cmd)
	cmd.Flags().BoolVar(&acceptTerms, "accept-terms", false, "accept the terms of service")
	cmd.Flags().StringVar(&origin, "origin", "", "base URL for the verification link (defaults to mail.origin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func originOrDefault(origin string, a *app) string {
	if origin != "" {
		return origin
	}
	return a.cfg.Mail.Origin
}

func newAccountVerifyCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.registration.VerifyEmail(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Println("Verification successful, you can now login")
				return nil
			})
		},
	}
}

func newAccountLoginCmd(deps *Deps) *cobra.Command {
	var email, password, ip string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and print an access and refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				if err := a.requireTokens(); err != nil {
					return err
				}
				result, err := a.authenticator.Authenticate(cmd.Context(), email, pw, ip)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when empty)")
	cmd.Flags().StringVar(&ip, "ip", "", "client address recorded on the refresh token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountForgotPasswordCmd(deps *Deps) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Send a password reset email",
		Long: `Send a password reset email. Unknown addresses are accepted silently
so the command cannot be used to probe for accounts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.resets.ForgotPassword(cmd.Context(), args[0], originOrDefault(origin, a)); err != nil {
					return err
				}
				cmd.Println("Please check your email for password reset instructions")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "base URL for the reset link (defaults to mail.origin)")
	return cmd
}

func newAccountValidateResetCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-reset TOKEN",
		Short: "Check that a password reset token is still valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(a *app) error {
				if err := a.resets.ValidateResetToken(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Println("Token is valid")
				return nil
			})
		},
	}
}

func newAccountResetPasswordCmd(deps *Deps) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password TOKEN",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return withApp(cmd, deps, func(a *app) error {
				if err := a.resets.ResetPassword(cmd.Context(), args[0], pw); err != nil {
					return err
				}
				cmd.Println("Password reset successful, you can now login")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (read from stdin when empty)")
	return cmd
}
