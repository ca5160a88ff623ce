// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Token lifetimes used when a Config leaves them zero.
const (
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultResetTokenTTL   = 24 * time.Hour
)

// Config holds the policy knobs shared by the auth services.
type Config struct {
	// RefreshTokenTTL is the lifetime of every refresh token.
	RefreshTokenTTL time.Duration

	// ResetTokenTTL is the lifetime of a password reset token.
	ResetTokenTTL time.Duration

	// ReuseDetection revokes the descendants of a refresh token when an
	// already-revoked token from the same chain is presented again.
	ReuseDetection bool

	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RefreshTokenTTL: DefaultRefreshTokenTTL,
		ResetTokenTTL:   DefaultResetTokenTTL,
		ReuseDetection:  true,
	}
}

// Validate checks that all durations are positive.
func (c Config) Validate() error {
	if c.RefreshTokenTTL <= 0 {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("field", "refresh_token_ttl").
			Errorf("refresh token TTL must be positive, got %s", c.RefreshTokenTTL)
	}
	if c.ResetTokenTTL <= 0 {
		return oops.Code("AUTH_CONFIG_INVALID").
			With("field", "reset_token_ttl").
			Errorf("reset token TTL must be positive, got %s", c.ResetTokenTTL)
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}
