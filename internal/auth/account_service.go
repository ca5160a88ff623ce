// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/pkg/errutil"
)

// CreateInput holds the fields of an admin-created account.
type CreateInput struct {
	Email     string
	Password  string
	Role      Role
	Title     string
	FirstName string
	LastName  string
}

// UpdateInput holds optional account changes. Nil fields are left unchanged.
type UpdateInput struct {
	Email     *string
	Password  *string
	Role      *Role
	Title     *string
	FirstName *string
	LastName  *string
}

// AccountService provides administrative account management.
type AccountService struct {
	accounts AccountRepository
	tokens   RefreshTokenRepository
	hasher   PasswordHasher
	cfg      Config
	logger   *slog.Logger
}

// NewAccountService creates an AccountService with a no-op logger.
func NewAccountService(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	cfg Config,
) (*AccountService, error) {
	return NewAccountServiceWithLogger(accounts, tokens, hasher, cfg, slog.New(slog.DiscardHandler))
}

// NewAccountServiceWithLogger creates an AccountService with the provided logger.
// Returns an error if any required dependency is nil.
func NewAccountServiceWithLogger(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	hasher PasswordHasher,
	cfg Config,
	logger *slog.Logger,
) (*AccountService, error) {
	switch {
	case accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case tokens == nil:
		return nil, oops.Errorf("refresh token repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AccountService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// List returns every account.
func (s *AccountService) List(ctx context.Context) ([]AccountSummary, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	out := make([]AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summary())
	}
	return out, nil
}

// Get returns a single account.
func (s *AccountService) Get(ctx context.Context, id ulid.ULID) (AccountSummary, error) {
	account, err := s.get(ctx, id, "ACCOUNT_GET_FAILED")
	if err != nil {
		return AccountSummary{}, err
	}
	return account.Summary(), nil
}

// Create stores an account on behalf of an admin. The account is verified
// from the start; a duplicate email is reported as ErrDuplicateEmail.
func (s *AccountService) Create(ctx context.Context, in CreateInput) (AccountSummary, error) {
	email := NormalizeEmail(in.Email)
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	if err := s.ensureEmailFree(ctx, email, "ACCOUNT_CREATE_FAILED"); err != nil {
		return AccountSummary{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AccountSummary{}, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := s.cfg.now()
	account, err := NewAccount(email, hash, role, Profile{
		Title:     in.Title,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}, now)
	if err != nil {
		return AccountSummary{}, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "create account").
			Wrap(err)
	}
	account.VerifiedAt = &now

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return AccountSummary{}, duplicateEmail(email, err)
		}
		return AccountSummary{}, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "persist account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String(),
		"role", string(account.Role))
	return account.Summary(), nil
}

// Update applies the non-nil fields of in. Demoting the last admin returns
// ErrLastAdmin and leaves the account unchanged.
func (s *AccountService) Update(ctx context.Context, id ulid.ULID, in UpdateInput) (AccountSummary, error) {
	account, err := s.get(ctx, id, "ACCOUNT_UPDATE_FAILED")
	if err != nil {
		return AccountSummary{}, err
	}

	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if email == "" {
			return AccountSummary{}, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
		}
		if email != account.Email {
			if err := s.ensureEmailFree(ctx, email, "ACCOUNT_UPDATE_FAILED"); err != nil {
				return AccountSummary{}, err
			}
			account.Email = email
		}
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return AccountSummary{}, oops.Code("ACCOUNT_UPDATE_FAILED").
				With("operation", "hash password").
				With("account_id", id.String()).
				Wrap(err)
		}
		account.PasswordHash = hash
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return AccountSummary{}, oops.Code("ACCOUNT_INVALID_ROLE").
				With("role", string(*in.Role)).
				Errorf("invalid role")
		}
		account.Role = *in.Role
	}
	if in.Title != nil {
		account.Title = *in.Title
	}
	if in.FirstName != nil {
		account.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		account.LastName = *in.LastName
	}
	account.UpdatedAt = s.cfg.now()

	if err := s.accounts.Update(ctx, account); err != nil {
		switch {
		case errors.Is(err, ErrLastAdmin):
			return AccountSummary{}, lastAdmin(id, err)
		case errors.Is(err, ErrDuplicateEmail):
			return AccountSummary{}, duplicateEmail(account.Email, err)
		case errors.Is(err, ErrNotFound):
			return AccountSummary{}, notFound(id)
		}
		return AccountSummary{}, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("account_id", id.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account updated", "account_id", id.String())
	return account.Summary(), nil
}

// Delete removes an account and revokes its refresh tokens. The last
// remaining admin cannot be deleted.
func (s *AccountService) Delete(ctx context.Context, id ulid.ULID) error {
	if err := s.accounts.DeleteUnlessLastAdmin(ctx, id); err != nil {
		switch {
		case errors.Is(err, ErrLastAdmin):
			return lastAdmin(id, err)
		case errors.Is(err, ErrNotFound):
			return notFound(id)
		}
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(err)
	}

	if _, err := s.tokens.RevokeAllForAccount(ctx, id, s.cfg.now(), ""); err != nil {
		errutil.LogError(s.logger, "revoke sessions of deleted account failed",
			oops.With("account_id", id.String()).Wrap(err))
	}

	s.logger.InfoContext(ctx, "account deleted", "account_id", id.String())
	return nil
}

// RevokeAllSessions revokes every active refresh token of an account and
// returns how many were revoked.
func (s *AccountService) RevokeAllSessions(ctx context.Context, id ulid.ULID, clientIP string) (int64, error) {
	if _, err := s.get(ctx, id, "REVOKE_SESSIONS_FAILED"); err != nil {
		return 0, err
	}

	n, err := s.tokens.RevokeAllForAccount(ctx, id, s.cfg.now(), clientIP)
	if err != nil {
		return 0, oops.Code("REVOKE_SESSIONS_FAILED").
			With("operation", "revoke all refresh tokens").
			With("account_id", id.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account sessions revoked",
		"account_id", id.String(),
		"revoked_refresh_tokens", n)
	return n, nil
}

// Tokens returns every refresh token of an account, newest first.
func (s *AccountService) Tokens(ctx context.Context, id ulid.ULID) ([]*RefreshToken, error) {
	tokens, err := s.tokens.ListByAccount(ctx, id)
	if err != nil {
		return nil, oops.Code("ACCOUNT_TOKENS_FAILED").
			With("operation", "list refresh tokens").
			With("account_id", id.String()).
			Wrap(err)
	}
	return tokens, nil
}

func (s *AccountService) get(ctx context.Context, id ulid.ULID, failCode string) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, oops.Code(failCode).
			With("operation", "get account").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func (s *AccountService) ensureEmailFree(ctx context.Context, email, failCode string) error {
	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return duplicateEmail(email, ErrDuplicateEmail)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code(failCode).
			With("operation", "get account by email").
			Wrap(err)
	}
}

func notFound(id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(ErrNotFound)
}

func lastAdmin(id ulid.ULID, cause error) error {
	return oops.Code("ACCOUNT_LAST_ADMIN").With("account_id", id.String()).Wrap(cause)
}

func duplicateEmail(email string, cause error) error {
	return oops.Code("ACCOUNT_DUPLICATE_EMAIL").With("email", email).Wrap(cause)
}
