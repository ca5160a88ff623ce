// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package authtest

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/auth"
)

// TokenStore is the refresh token half of a Store.
type TokenStore struct {
	s *Store
}

// Create implements auth.RefreshTokenRepository.
func (t *TokenStore) Create(_ context.Context, token *auth.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.createLocked(token)
}

// GetByHash implements auth.RefreshTokenRepository.
func (t *TokenStore) GetByHash(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	token, ok := t.s.tokens[tokenHash]
	if !ok {
		return nil, notFound("refresh_token")
	}
	return copyToken(token), nil
}

// Revoke implements auth.RefreshTokenRepository.
func (t *TokenStore) Revoke(_ context.Context, token *auth.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.revokeLocked(token)
}

// Rotate implements auth.RefreshTokenRepository.
func (t *TokenStore) Rotate(_ context.Context, revoked, successor *auth.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.tokens[successor.TokenHash]; ok {
		return oops.Code("REFRESH_TOKEN_DUPLICATE").Errorf("token hash already stored")
	}
	if err := t.revokeLocked(revoked); err != nil {
		return err
	}
	return t.createLocked(successor)
}

// RevokeAllForAccount implements auth.RefreshTokenRepository.
func (t *TokenStore) RevokeAllForAccount(_ context.Context, accountID ulid.ULID, at time.Time, ip string) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var n int64
	for _, token := range t.s.tokens {
		if token.AccountID == accountID && token.IsActiveAt(at) {
			token.Revoke(at, ip, "")
			n++
		}
	}
	return n, nil
}

// ListByAccount implements auth.RefreshTokenRepository.
func (t *TokenStore) ListByAccount(_ context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var out []*auth.RefreshToken
	for _, token := range t.s.tokens {
		if token.AccountID == accountID {
			out = append(out, copyToken(token))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Compare(out[j].ID) > 0
	})
	return out, nil
}

func (t *TokenStore) createLocked(token *auth.RefreshToken) error {
	if _, ok := t.s.tokens[token.TokenHash]; ok {
		return oops.Code("REFRESH_TOKEN_DUPLICATE").Errorf("token hash already stored")
	}
	t.s.tokens[token.TokenHash] = copyToken(token)
	return nil
}

// revokeLocked succeeds only if the stored token has not been revoked yet.
func (t *TokenStore) revokeLocked(token *auth.RefreshToken) error {
	stored, ok := t.s.tokens[token.TokenHash]
	if !ok || stored.IsRevoked() {
		return notFound("refresh_token")
	}
	t.s.tokens[token.TokenHash] = copyToken(token)
	return nil
}

var _ auth.RefreshTokenRepository = (*TokenStore)(nil)
