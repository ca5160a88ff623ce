// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package main is the entry point for the accounts CLI.
package main

import (
	"fmt"
	"os"

	"github.com/pygmalion/accounts/pkg/errutil"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		if code := errutil.Code(err); code != "" {
			_, _ = fmt.Fprintf(os.Stderr, "Error code: %s\n", code)
		}
		os.Exit(1)
	}
}
