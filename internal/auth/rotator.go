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

// maxLineageDepth bounds chain walks over refresh tokens.
const maxLineageDepth = 10000

// RefreshTokenRotator exchanges refresh tokens for new sessions and revokes them.
type RefreshTokenRotator struct {
	accounts AccountRepository
	tokens   RefreshTokenRepository
	issuer   AccessTokenIssuer
	cfg      Config
	logger   *slog.Logger
}

// NewRefreshTokenRotator creates a RefreshTokenRotator with a no-op logger.
func NewRefreshTokenRotator(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	issuer AccessTokenIssuer,
	cfg Config,
) (*RefreshTokenRotator, error) {
	return NewRefreshTokenRotatorWithLogger(accounts, tokens, issuer, cfg, slog.New(slog.DiscardHandler))
}

// NewRefreshTokenRotatorWithLogger creates a RefreshTokenRotator with the provided logger.
// Returns an error if any required dependency is nil.
func NewRefreshTokenRotatorWithLogger(
	accounts AccountRepository,
	tokens RefreshTokenRepository,
	issuer AccessTokenIssuer,
	cfg Config,
	logger *slog.Logger,
) (*RefreshTokenRotator, error) {
	switch {
	case accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case tokens == nil:
		return nil, oops.Errorf("refresh token repository is required")
	case issuer == nil:
		return nil, oops.Errorf("access token issuer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RefreshTokenRotator{
		accounts: accounts,
		tokens:   tokens,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Refresh rotates an active refresh token: the presented token is revoked,
// a successor is stored in its place and a new access token is issued.
// Absent, expired or revoked tokens yield ErrInvalidToken.
func (r *RefreshTokenRotator) Refresh(ctx context.Context, token, clientIP string) (*AuthResult, error) {
	now := r.cfg.now()
	current, err := r.activeToken(ctx, token, clientIP, now, "REFRESH_FAILED")
	if err != nil {
		return nil, err
	}

	account, err := r.accounts.GetByID(ctx, current.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidToken("refresh")
		}
		return nil, oops.Code("REFRESH_FAILED").
			With("operation", "get account").
			With("account_id", current.AccountID.String()).
			Wrap(err)
	}

	successor, result, err := newSession(r.issuer, r.cfg, account, clientIP, now)
	if err != nil {
		return nil, oops.Code("REFRESH_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	current.Revoke(now, clientIP, successor.TokenHash)
	if err := r.tokens.Rotate(ctx, current, successor); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent refresh or revoke got there first.
			return nil, invalidToken("refresh")
		}
		return nil, oops.Code("REFRESH_FAILED").
			With("operation", "rotate refresh token").
			With("refresh_token_id", current.ID.String()).
			Wrap(err)
	}

	RefreshRotations.Inc()
	r.logger.DebugContext(ctx, "refresh token rotated",
		"account_id", account.ID.String(),
		"revoked_token_id", current.ID.String(),
		"successor_token_id", successor.ID.String())
	return result, nil
}

// Revoke revokes an active refresh token without issuing a successor.
func (r *RefreshTokenRotator) Revoke(ctx context.Context, token, clientIP string) error {
	now := r.cfg.now()
	current, err := r.activeToken(ctx, token, clientIP, now, "REVOKE_FAILED")
	if err != nil {
		return err
	}

	current.Revoke(now, clientIP, "")
	if err := r.tokens.Revoke(ctx, current); err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken("refresh")
		}
		return oops.Code("REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("refresh_token_id", current.ID.String()).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "refresh token revoked",
		"account_id", current.AccountID.String(),
		"refresh_token_id", current.ID.String(),
		"client_ip", clientIP)
	return nil
}

// Lineage returns the chain that starts at token, following each
// ReplacedByHash link forward. The presented token is first.
func (r *RefreshTokenRotator) Lineage(ctx context.Context, token string) ([]*RefreshToken, error) {
	if token == "" {
		return nil, invalidToken("refresh")
	}

	start, err := r.tokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidToken("refresh")
		}
		return nil, oops.Code("LINEAGE_FAILED").
			With("operation", "get refresh token").
			Wrap(err)
	}

	chain, err := r.descendants(ctx, start)
	if err != nil {
		return nil, oops.Code("LINEAGE_FAILED").
			With("refresh_token_id", start.ID.String()).
			Wrap(err)
	}
	return append([]*RefreshToken{start}, chain...), nil
}

// activeToken looks up a presented token and rejects it unless it is active.
// A revoked token triggers reuse handling before being rejected.
func (r *RefreshTokenRotator) activeToken(ctx context.Context, token, clientIP string, now time.Time, failCode string) (*RefreshToken, error) {
	if token == "" {
		return nil, invalidToken("refresh")
	}

	current, err := r.tokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidToken("refresh")
		}
		return nil, oops.Code(failCode).
			With("operation", "get refresh token").
			Wrap(err)
	}

	if current.IsRevoked() {
		r.handleReuse(ctx, current, clientIP, now)
		return nil, invalidToken("refresh")
	}
	if current.IsExpiredAt(now) {
		return nil, invalidToken("refresh")
	}
	return current, nil
}

// handleReuse revokes every active descendant of a token that was presented
// after it had already been revoked.
func (r *RefreshTokenRotator) handleReuse(ctx context.Context, reused *RefreshToken, clientIP string, now time.Time) {
	if !r.cfg.ReuseDetection {
		return
	}
	RefreshTokenReuse.Inc()

	chain, err := r.descendants(ctx, reused)
	if err != nil {
		errutil.LogError(r.logger, "refresh token reuse: walking chain failed",
			oops.With("refresh_token_id", reused.ID.String()).Wrap(err))
	}

	var revoked int
	for _, t := range chain {
		if !t.IsActiveAt(now) {
			continue
		}
		t.Revoke(now, clientIP, "")
		if err := r.tokens.Revoke(ctx, t); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			errutil.LogError(r.logger, "refresh token reuse: revoking descendant failed",
				oops.With("refresh_token_id", t.ID.String()).Wrap(err))
			continue
		}
		revoked++
	}

	r.logger.WarnContext(ctx, "revoked refresh token presented again",
		"account_id", reused.AccountID.String(),
		"refresh_token_id", reused.ID.String(),
		"client_ip", clientIP,
		"revoked_descendants", revoked)
}

// descendants follows ReplacedByHash links from start, excluding start.
// Whatever was collected before a lookup error is returned alongside it.
func (r *RefreshTokenRotator) descendants(ctx context.Context, start *RefreshToken) ([]*RefreshToken, error) {
	var chain []*RefreshToken
	seen := map[string]bool{start.TokenHash: true}

	next := start.ReplacedByHash
	for next != nil && len(chain) < maxLineageDepth {
		if seen[*next] {
			break
		}
		seen[*next] = true

		t, err := r.tokens.GetByHash(ctx, *next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return chain, oops.With("operation", "get descendant").Wrap(err)
		}
		chain = append(chain, t)
		next = t.ReplacedByHash
	}
	return chain, nil
}
