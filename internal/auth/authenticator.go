// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/pygmalion/accounts/pkg/errutil"
)

// Authenticator verifies credentials and starts sessions.
type Authenticator struct {
	accounts AccountRepository
	tokens   RefreshTokenRepository
	hasher   PasswordHasher
	issuer   AccessTokenIssuer
	cfg      Config
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator with a no-op logger.
func NewAuthenticator(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	issuer AccessTokenIssuer,
	cfg Config,
) (*Authenticator, error) {
	return NewAuthenticatorWithLogger(accounts, tokens, hasher, issuer, cfg, slog.New(slog.DiscardHandler))
}

// NewAuthenticatorWithLogger creates an Authenticator with the provided logger.
// Returns an error if any required dependency is nil.
func NewAuthenticatorWithLogger(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	issuer AccessTokenIssuer,
	cfg Config,
	logger *slog.Logger,
) (*Authenticator, error) {
	switch {
	case accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case tokens == nil:
		return nil, oops.Errorf("refresh token repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case issuer == nil:
		return nil, oops.Errorf("access token issuer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Authenticate checks an email and password and, on success, returns a new
// access token and refresh token bound to clientIP.
//
// An unknown email, an unverified account and a wrong password all produce
// the same ErrInvalidCredentials after the same amount of hashing work.
func (a *Authenticator) Authenticate(ctx context.Context, email, password, clientIP string) (*AuthResult, error) {
	account, lookupErr := a.accounts.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	exists := false
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
		exists = true
	case errors.Is(lookupErr, ErrNotFound):
	default:
		LoginAttempts.WithLabelValues(LoginError).Inc()
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := a.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			LoginAttempts.WithLabelValues(LoginInvalid).Inc()
			return nil, invalidCredentials()
		}
		LoginAttempts.WithLabelValues(LoginError).Inc()
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}

	// Verification status is checked last so it never shortens the path.
	if !exists || !valid || !account.IsVerified() {
		LoginAttempts.WithLabelValues(LoginInvalid).Inc()
		return nil, invalidCredentials()
	}

	now := a.cfg.now()
	if a.hasher.NeedsUpgrade(account.PasswordHash) {
		a.upgradeHash(ctx, account, password, now)
	}

	refresh, result, err := newSession(a.issuer, a.cfg, account, clientIP, now)
	if err != nil {
		LoginAttempts.WithLabelValues(LoginError).Inc()
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if err := a.tokens.Create(ctx, refresh); err != nil {
		LoginAttempts.WithLabelValues(LoginError).Inc()
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "persist refresh token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	LoginAttempts.WithLabelValues(LoginSuccess).Inc()
	a.logger.InfoContext(ctx, "account authenticated",
		"account_id", account.ID.String(),
		"refresh_token_id", refresh.ID.String(),
		"client_ip", clientIP)
	return result, nil
}

// upgradeHash re-hashes a legacy password. Login succeeds regardless.
func (a *Authenticator) upgradeHash(ctx context.Context, account *Account, password string, now time.Time) {
	newHash, err := a.hasher.Hash(password)
	if err != nil {
		errutil.LogError(a.logger, "password hash upgrade failed", err)
		return
	}
	if err := a.accounts.ReplacePasswordHash(ctx, account.ID, account.PasswordHash, newHash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			a.logger.InfoContext(ctx, "password changed during login, hash upgrade skipped",
				"account_id", account.ID.String())
			return
		}
		errutil.LogError(a.logger, "password hash upgrade failed", err)
		return
	}
	account.PasswordHash = newHash
	account.UpdatedAt = now
	a.logger.InfoContext(ctx, "password hash upgraded", "account_id", account.ID.String())
}
