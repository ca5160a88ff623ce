// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import "errors"

// Domain errors. Service errors wrap these so callers can branch with errors.Is
// while the attached oops code identifies the failing operation.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials covers unknown email, unverified account and wrong password alike.
	ErrInvalidCredentials = errors.New("email or password is incorrect")

	// ErrInvalidToken is returned for verification, reset and refresh tokens
	// that are absent, expired or revoked.
	ErrInvalidToken = errors.New("invalid token")

	// ErrDuplicateEmail is returned by repositories when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrLastAdmin is returned when an operation would leave no admin account.
	ErrLastAdmin = errors.New("cannot remove the last admin account")
)
