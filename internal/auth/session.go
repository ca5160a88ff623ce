// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// AuthResult is returned by a successful login or refresh.
type AuthResult struct {
	Account          AccountSummary `json:"account"`
	AccessToken      string         `json:"jwtToken"`
	AccessExpiresAt  time.Time      `json:"jwtExpires"`
	RefreshToken     string         `json:"refreshToken"`
	RefreshExpiresAt time.Time      `json:"refreshExpires"`
}

// dummyPasswordHash is verified when no account matches, so a miss costs
// the same as a wrong password.
//
//nolint:gosec // G101: intentionally fake hash, never matches any password.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// newSession mints an access token and an unsaved refresh token for the account.
// The caller persists the returned RefreshToken.
func newSession(issuer AccessTokenIssuer, cfg Config, account *Account, clientIP string, now time.Time) (*RefreshToken, *AuthResult, error) {
	accessToken, accessExpires, err := issuer.Issue(account, now)
	if err != nil {
		return nil, nil, oops.With("operation", "issue access token").Wrap(err)
	}

	plaintext, hash, err := GenerateToken()
	if err != nil {
		return nil, nil, oops.With("operation", "generate refresh token").Wrap(err)
	}

	refresh, err := NewRefreshToken(account.ID, hash, clientIP, now, now.Add(cfg.RefreshTokenTTL))
	if err != nil {
		return nil, nil, oops.With("operation", "create refresh token").Wrap(err)
	}

	return refresh, &AuthResult{
		Account:          account.Summary(),
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     plaintext,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

func invalidToken(kind string) error {
	return oops.Code("AUTH_INVALID_TOKEN").With("kind", kind).Wrap(ErrInvalidToken)
}
