// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultAccessTokenTTL is the lifetime of every access token.
const DefaultAccessTokenTTL = 15 * time.Minute

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// AccessTokenIssuer signs and validates short-lived access tokens.
type AccessTokenIssuer interface {
	// Issue signs an access token for the account, valid from now.
	Issue(account *Account, now time.Time) (token string, expiresAt time.Time, err error)

	// Parse validates a token and returns its claims.
	Parse(token string) (*AccessClaims, error)
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// AccountID returns the subject as a ULID.
func (c *AccessClaims) AccountID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCESS_TOKEN_INVALID_SUBJECT").
			With("subject", c.Subject).
			Wrap(err)
	}
	return id, nil
}

// JWTIssuer implements AccessTokenIssuer with HS256-signed JWTs.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewJWTIssuer creates a JWTIssuer. A zero ttl uses DefaultAccessTokenTTL.
func NewJWTIssuer(secret []byte, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("ACCESS_TOKEN_SECRET_TOO_SHORT").
			With("min", MinSecretLength).
			Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &JWTIssuer{secret: secret, issuer: issuer, ttl: ttl, clock: time.Now}, nil
}

// WithClock returns a copy of the issuer that validates expiry against clock.
func (j *JWTIssuer) WithClock(clock func() time.Time) *JWTIssuer {
	cp := *j
	cp.clock = clock
	return &cp
}

// TTL returns the access token lifetime.
func (j *JWTIssuer) TTL() time.Duration {
	return j.ttl
}

// Issue signs an access token embedding the account id and role.
func (j *JWTIssuer) Issue(account *Account, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(j.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: account.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("ACCESS_TOKEN_SIGN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, issuer and expiry and returns the claims.
func (j *JWTIssuer) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(_ *jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock),
	)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_TOKEN").
			With("kind", "access").
			Wrap(err)
	}
	if !parsed.Valid {
		return nil, oops.Code("AUTH_INVALID_TOKEN").
			With("kind", "access").
			Wrap(ErrInvalidToken)
	}
	return claims, nil
}

// Compile-time interface check.
var _ AccessTokenIssuer = (*JWTIssuer)(nil)
