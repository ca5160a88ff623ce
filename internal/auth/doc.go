// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package auth provides the account and session-lifecycle core.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with a normalized email and password hash
//   - NewRefreshToken - creates a RefreshToken bound to an account and client IP
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Authenticator - email/password login issuing an access and refresh token pair
//   - RegistrationService - sign-up, first-admin bootstrap, email verification
//   - PasswordResetService - forgot password, token validation, password reset
//   - RefreshTokenRotator - refresh token rotation, revocation and lineage
//   - AccountService - admin account management with last-admin protection
//
// Services are created with New* constructors that validate dependencies.
// Every service reads durations and the clock from an explicit Config.
package auth
