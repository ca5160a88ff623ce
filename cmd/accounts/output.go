// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pygmalion/accounts/internal/auth"
)

// printJSON writes v to the command's output as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.Code("OUTPUT_FAILED").With("operation", "marshal output").Wrap(err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func printAccounts(cmd *cobra.Command, accounts []auth.AccountSummary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tROLE\tVERIFIED\tNAME\tCREATED")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			a.ID, a.Email, a.Role, a.IsVerified, displayName(a), a.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func displayName(a auth.AccountSummary) string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" {
		return "-"
	}
	return name
}

// tokenView is the printable form of a refresh token. Hashes are omitted.
type tokenView struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created"`
	ExpiresAt   time.Time  `json:"expires"`
	CreatedByIP string     `json:"createdByIp,omitempty"`
	RevokedAt   *time.Time `json:"revoked,omitempty"`
	RevokedByIP string     `json:"revokedByIp,omitempty"`
	Replaced    bool       `json:"replaced"`
	Active      bool       `json:"isActive"`
}

func viewTokens(tokens []*auth.RefreshToken, now time.Time) []tokenView {
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		v := tokenView{
			ID:          t.ID.String(),
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			CreatedByIP: t.CreatedByIP,
			RevokedAt:   t.RevokedAt,
			Replaced:    t.ReplacedByHash != nil,
			Active:      t.IsActiveAt(now),
		}
		if t.RevokedByIP != nil {
			v.RevokedByIP = *t.RevokedByIP
		}
		out = append(out, v)
	}
	return out
}

func printTokens(cmd *cobra.Command, tokens []tokenView) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCREATED\tEXPIRES\tSTATE\tCREATED BY")
	for _, t := range tokens {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.CreatedAt.Format(time.RFC3339), t.ExpiresAt.Format(time.RFC3339), tokenState(t), dash(t.CreatedByIP))
	}
	_ = w.Flush()
}

func tokenState(t tokenView) string {
	switch {
	case t.Active:
		return "active"
	case t.Replaced:
		return "rotated"
	case t.RevokedAt != nil:
		return "revoked"
	default:
		return "expired"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// parseAccountID parses a ULID argument.
func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ACCOUNT_ID").With("input", s).Wrap(err)
	}
	return id, nil
}
