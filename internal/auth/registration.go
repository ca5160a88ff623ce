// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// RegisterInput holds the fields of a self-service registration.
type RegisterInput struct {
	Email       string
	Password    string
	Title       string
	FirstName   string
	LastName    string
	AcceptTerms bool
	// Origin is the base URL used to build links in the emails. Empty means
	// the email carries the bare token.
	Origin string
}

// RegistrationService handles self-service sign-up and email verification.
type RegistrationService struct {
	accounts AccountRepository
	hasher   PasswordHasher
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewRegistrationService creates a RegistrationService with a no-op logger.
func NewRegistrationService(
	accounts AccountRepository,
	hasher PasswordHasher,
	notifier Notifier,
	cfg Config,
) (*RegistrationService, error) {
	return NewRegistrationServiceWithLogger(accounts, hasher, notifier, cfg, slog.New(slog.DiscardHandler))
}

// NewRegistrationServiceWithLogger creates a RegistrationService with the provided logger.
// Returns an error if any required dependency is nil.
func NewRegistrationServiceWithLogger(
	accounts AccountRepository,
	hasher PasswordHasher,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) (*RegistrationService, error) {
	switch {
	case accounts == nil:
		return nil, oops.Errorf("account repository is required")
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
	return &RegistrationService{
		accounts: accounts,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Register creates an unverified account and emails a verification token.
//
// If the email is already registered the owner is notified instead and nil is
// returned, so callers cannot tell the two cases apart. The first account ever
// created becomes an Admin; every later one is a User.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) error {
	email := NormalizeEmail(in.Email)

	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		s.alreadyRegistered(ctx, email, in.Origin)
		return nil
	case !errors.Is(err, ErrNotFound):
		return oops.Code("REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		return oops.Code("REGISTER_FAILED").
			With("operation", "generate verification token").
			Wrap(err)
	}

	account, err := NewAccount(email, hash, RoleUser, Profile{
		Title:       in.Title,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		AcceptTerms: in.AcceptTerms,
	}, s.cfg.now())
	if err != nil {
		return oops.Code("REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}
	account.VerificationTokenHash = &tokenHash

	if err := s.accounts.CreateWithBootstrap(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			// Lost a race with a concurrent registration of the same email.
			s.alreadyRegistered(ctx, email, in.Origin)
			return nil
		}
		return oops.Code("REGISTER_FAILED").
			With("operation", "persist account").
			Wrap(err)
	}

	if account.IsAdmin() {
		Registrations.WithLabelValues(RegistrationBootstrap).Inc()
		s.logger.InfoContext(ctx, "bootstrap admin account registered", "account_id", account.ID.String())
	} else {
		Registrations.WithLabelValues(RegistrationCreated).Inc()
		s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	}

	msg, renderErr := VerificationMessage(account.Email, token, in.Origin)
	deliver(ctx, s.notifier, s.logger, msg, renderErr)
	return nil
}

func (s *RegistrationService) alreadyRegistered(ctx context.Context, email, origin string) {
	Registrations.WithLabelValues(RegistrationDuplicate).Inc()
	msg, renderErr := AlreadyRegisteredMessage(email, origin)
	deliver(ctx, s.notifier, s.logger, msg, renderErr)
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return invalidToken("verification")
	}

	id, err := s.accounts.MarkVerified(ctx, HashToken(token), s.cfg.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken("verification")
		}
		return oops.Code("VERIFY_EMAIL_FAILED").
			With("operation", "mark account verified").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "email verified", "account_id", id.String())
	return nil
}
