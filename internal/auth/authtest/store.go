// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package authtest provides in-memory implementations of the auth
// repositories and notifier for tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/auth"
)

// Store is an in-memory AccountRepository and RefreshTokenRepository.
// All methods are safe for concurrent use. Stored records are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu           sync.Mutex
	accounts     map[ulid.ULID]*auth.Account
	tokens       map[string]*auth.RefreshToken
	bootstrapped bool
	tokenView    *TokenStore
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		tokens:   make(map[string]*auth.RefreshToken),
	}
	s.tokenView = &TokenStore{s: s}
	return s
}

// Tokens returns the refresh token repository backed by the same state.
func (s *Store) Tokens() *TokenStore {
	return s.tokenView
}

// CreateWithBootstrap implements auth.AccountRepository.
func (s *Store) CreateWithBootstrap(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTakenLocked(account.Email, account.ID) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").With("email", account.Email).Wrap(auth.ErrDuplicateEmail)
	}
	if !s.bootstrapped {
		s.bootstrapped = true
		account.Role = auth.RoleAdmin
	}
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

// Create implements auth.AccountRepository.
func (s *Store) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTakenLocked(account.Email, account.ID) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").With("email", account.Email).Wrap(auth.ErrDuplicateEmail)
	}
	s.bootstrapped = true
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

// GetByID implements auth.AccountRepository.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	return copyAccount(a), nil
}

// GetByEmail implements auth.AccountRepository.
func (s *Store) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = auth.NormalizeEmail(email)
	for _, a := range s.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, notFound("account")
}

// GetByResetToken implements auth.AccountRepository.
func (s *Store) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.ResetToken != nil && a.ResetToken.TokenHash == tokenHash && !a.ResetToken.IsExpiredAt(now) {
			return copyAccount(a), nil
		}
	}
	return nil, notFound("account")
}

// List implements auth.AccountRepository.
func (s *Store) List(_ context.Context) ([]*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Compare(out[j].ID) < 0
	})
	return out, nil
}

// Count implements auth.AccountRepository.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.accounts)), nil
}

// CountByRole implements auth.AccountRepository.
func (s *Store) CountByRole(_ context.Context, role auth.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countRoleLocked(role), nil
}

// Update implements auth.AccountRepository.
func (s *Store) Update(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok {
		return notFound("account")
	}
	if s.emailTakenLocked(account.Email, account.ID) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").With("email", account.Email).Wrap(auth.ErrDuplicateEmail)
	}
	if existing.IsAdmin() && !account.IsAdmin() && s.countRoleLocked(auth.RoleAdmin) <= 1 {
		return oops.Code("ACCOUNT_LAST_ADMIN").With("account_id", account.ID.String()).Wrap(auth.ErrLastAdmin)
	}
	existing.Email = account.Email
	existing.PasswordHash = account.PasswordHash
	existing.Role = account.Role
	existing.Title = account.Title
	existing.FirstName = account.FirstName
	existing.LastName = account.LastName
	existing.UpdatedAt = account.UpdatedAt
	return nil
}

// MarkVerified implements auth.AccountRepository.
func (s *Store) MarkVerified(_ context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.accounts {
		if a.VerificationTokenHash != nil && *a.VerificationTokenHash == tokenHash {
			a.VerifiedAt = &now
			a.VerificationTokenHash = nil
			a.UpdatedAt = now
			return id, nil
		}
	}
	return ulid.ULID{}, notFound("account")
}

// SetResetToken implements auth.AccountRepository.
func (s *Store) SetResetToken(_ context.Context, id ulid.ULID, token auth.ResetToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.ResetToken = &token
	a.UpdatedAt = now
	return nil
}

// ConsumeResetToken implements auth.AccountRepository.
func (s *Store) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.accounts {
		if a.ResetToken != nil && a.ResetToken.TokenHash == tokenHash && !a.ResetToken.IsExpiredAt(now) {
			a.PasswordHash = passwordHash
			a.PasswordResetAt = &now
			a.ResetToken = nil
			a.UpdatedAt = now
			return id, nil
		}
	}
	return ulid.ULID{}, notFound("account")
}

// ReplacePasswordHash implements auth.AccountRepository.
func (s *Store) ReplacePasswordHash(_ context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.PasswordHash != oldHash {
		return notFound("account")
	}
	a.PasswordHash = newHash
	a.UpdatedAt = now
	return nil
}

// DeleteUnlessLastAdmin implements auth.AccountRepository.
func (s *Store) DeleteUnlessLastAdmin(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return notFound("account")
	}
	if a.IsAdmin() && s.countRoleLocked(auth.RoleAdmin) <= 1 {
		return oops.Code("ACCOUNT_LAST_ADMIN").With("account_id", id.String()).Wrap(auth.ErrLastAdmin)
	}
	delete(s.accounts, id)
	return nil
}

func (s *Store) emailTakenLocked(email string, except ulid.ULID) bool {
	for id, a := range s.accounts {
		if id != except && a.Email == email {
			return true
		}
	}
	return false
}

func (s *Store) countRoleLocked(role auth.Role) int64 {
	var n int64
	for _, a := range s.accounts {
		if a.Role == role {
			n++
		}
	}
	return n
}

func notFound(entity string) error {
	return oops.With("entity", entity).Wrap(auth.ErrNotFound)
}

func copyAccount(a *auth.Account) *auth.Account {
	cp := *a
	if a.VerificationTokenHash != nil {
		v := *a.VerificationTokenHash
		cp.VerificationTokenHash = &v
	}
	if a.VerifiedAt != nil {
		v := *a.VerifiedAt
		cp.VerifiedAt = &v
	}
	if a.ResetToken != nil {
		v := *a.ResetToken
		cp.ResetToken = &v
	}
	if a.PasswordResetAt != nil {
		v := *a.PasswordResetAt
		cp.PasswordResetAt = &v
	}
	return &cp
}

func copyToken(t *auth.RefreshToken) *auth.RefreshToken {
	cp := *t
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		cp.RevokedAt = &v
	}
	if t.RevokedByIP != nil {
		v := *t.RevokedByIP
		cp.RevokedByIP = &v
	}
	if t.ReplacedByHash != nil {
		v := *t.ReplacedByHash
		cp.ReplacedByHash = &v
	}
	return &cp
}

var _ auth.AccountRepository = (*Store)(nil)
