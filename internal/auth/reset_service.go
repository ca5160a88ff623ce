// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/pygmalion/accounts/pkg/errutil"
)

// PasswordResetService handles forgotten passwords.
type PasswordResetService struct {
	accounts AccountRepository
	tokens   RefreshTokenRepository
	hasher   PasswordHasher
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewPasswordResetService creates a PasswordResetService with a no-op logger.
func NewPasswordResetService(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	notifier Notifier,
	cfg Config,
) (*PasswordResetService, error) {
	return NewPasswordResetServiceWithLogger(accounts, tokens, hasher, notifier, cfg, slog.New(slog.DiscardHandler))
}

// NewPasswordResetServiceWithLogger creates a PasswordResetService with the provided logger.
// Returns an error if any required dependency is nil.
func NewPasswordResetServiceWithLogger(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	switch {
	case accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case tokens == nil:
		return nil, oops.Errorf("refresh token repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case notifier == nil:
		return nil, oops.Errorf("notifier is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PasswordResetService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ForgotPassword issues a reset token and emails it to the account owner.
// An unknown email returns nil without sending anything. A new request
// replaces any reset token issued before it.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email, origin string) error {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, hash, err := GenerateToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	now := s.cfg.now()
	reset := ResetToken{TokenHash: hash, ExpiresAt: now.Add(s.cfg.ResetTokenTTL)}

	if err := s.accounts.SetResetToken(ctx, account.ID, reset, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted since the lookup.
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	PasswordResets.WithLabelValues(ResetStageRequested).Inc()
	s.logger.InfoContext(ctx, "password reset requested", "account_id", account.ID.String())

	msg, renderErr := ResetPasswordMessage(account.Email, token, origin)
	deliver(ctx, s.notifier, s.logger, msg, renderErr)
	return nil
}

// ValidateResetToken returns ErrInvalidToken unless the token belongs to an
// account and has not expired.
func (s *PasswordResetService) ValidateResetToken(ctx context.Context, token string) error {
	_, err := s.accountForResetToken(ctx, token, "RESET_VALIDATE_FAILED")
	return err
}

// ResetPassword consumes a reset token and sets a new password. The account
// counts as verified afterwards and all of its refresh tokens are revoked.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	account, err := s.accountForResetToken(ctx, token, "RESET_PASSWORD_FAILED")
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	now := s.cfg.now()
	id, err := s.accounts.ConsumeResetToken(ctx, HashToken(token), hash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Used or expired while the password was hashed.
			return invalidToken("reset")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "consume reset token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	PasswordResets.WithLabelValues(ResetStageCompleted).Inc()

	revoked, err := s.tokens.RevokeAllForAccount(ctx, id, now, "")
	if err != nil {
		// The password is already changed; sessions expire on their own.
		errutil.LogError(s.logger, "revoke sessions after password reset failed",
			oops.With("account_id", id.String()).Wrap(err))
		return nil
	}

	s.logger.InfoContext(ctx, "password reset completed",
		"account_id", id.String(),
		"revoked_refresh_tokens", revoked)
	return nil
}

func (s *PasswordResetService) accountForResetToken(ctx context.Context, token, failCode string) (*Account, error) {
	if token == "" {
		return nil, invalidToken("reset")
	}

	account, err := s.accounts.GetByResetToken(ctx, HashToken(token), s.cfg.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidToken("reset")
		}
		return nil, oops.Code(failCode).
			With("operation", "get account by reset token").
			Wrap(err)
	}
	return account, nil
}
