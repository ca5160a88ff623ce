// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login results.
const (
	LoginSuccess = "success"
	LoginInvalid = "invalid"
	LoginError   = "error"
)

// Registration outcomes.
const (
	RegistrationCreated   = "created"
	RegistrationDuplicate = "duplicate"
	RegistrationBootstrap = "bootstrap_admin"
)

// Password reset stages.
const (
	ResetStageRequested = "requested"
	ResetStageCompleted = "completed"
)

// LoginAttempts counts Authenticate calls by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accounts_login_attempts_total",
		Help: "Total number of login attempts",
	},
	[]string{"result"},
)

// Registrations counts Register calls by outcome.
var Registrations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accounts_registrations_total",
		Help: "Total number of registrations",
	},
	[]string{"outcome"},
)

// RefreshRotations counts successful refresh token rotations.
var RefreshRotations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "accounts_refresh_rotations_total",
		Help: "Total number of refresh token rotations",
	},
)

// RefreshTokenReuse counts presentations of already-revoked refresh tokens.
var RefreshTokenReuse = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "accounts_refresh_token_reuse_total",
		Help: "Total number of revoked refresh tokens presented again",
	},
)

// PasswordResets counts password reset requests and completions.
var PasswordResets = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accounts_password_resets_total",
		Help: "Total number of password reset operations",
	},
	[]string{"stage"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(Registrations)
	reg.MustRegister(RefreshRotations)
	reg.MustRegister(RefreshTokenReuse)
	reg.MustRegister(PasswordResets)
}
