// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshToken is a persisted opaque credential used to mint access tokens.
// Records are never deleted; the only mutation is the terminal revoked state.
type RefreshToken struct {
	ID             ulid.ULID
	AccountID      ulid.ULID
	TokenHash      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	CreatedByIP    string
	RevokedAt      *time.Time
	RevokedByIP    *string
	ReplacedByHash *string
}

// NewRefreshToken creates a validated RefreshToken.
func NewRefreshToken(accountID ulid.ULID, tokenHash, createdByIP string, now, expiresAt time.Time) (*RefreshToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}

	return &RefreshToken{
		ID:          ulid.Make(),
		AccountID:   accountID,
		TokenHash:   tokenHash,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		CreatedByIP: createdByIP,
	}, nil
}

// IsRevoked returns true once the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsActiveAt returns true if the token is neither revoked nor expired at now.
func (t *RefreshToken) IsActiveAt(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpiredAt(now)
}

// Revoke marks the token revoked. replacedByHash is empty for plain revocation.
func (t *RefreshToken) Revoke(at time.Time, ip, replacedByHash string) {
	t.RevokedAt = &at
	t.RevokedByIP = &ip
	if replacedByHash != "" {
		t.ReplacedByHash = &replacedByHash
	}
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByHash retrieves a token by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Revoke persists the revoked state of a token. It only succeeds if the
	// stored token is not yet revoked; otherwise ErrNotFound is returned.
	Revoke(ctx context.Context, token *RefreshToken) error

	// Rotate atomically persists the revoked predecessor and stores its
	// successor. Returns ErrNotFound if the predecessor was revoked concurrently.
	Rotate(ctx context.Context, revoked, successor *RefreshToken) error

	// RevokeAllForAccount revokes every active token of an account and
	// returns how many were revoked.
	RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, at time.Time, ip string) (int64, error)

	// ListByAccount returns all tokens of an account, newest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*RefreshToken, error)
}
