// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const appName = "accounts"

// ConfigDir returns the XDG config directory for the accounts CLI.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config. Returns "" when
// neither XDG_CONFIG_HOME nor HOME is set.
func ConfigDir(getenv func(string) string) string {
	if base := getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName)
	}
	if home := getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appName)
	}
	return ""
}

// DefaultPath returns the config file read when --config is not given.
func DefaultPath(getenv func(string) string) string {
	dir := ConfigDir(getenv)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// discoverFile returns DefaultPath when that file exists.
func discoverFile(getenv func(string) string) (string, error) {
	path := DefaultPath(getenv)
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}
