// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pygmalion/accounts/internal/auth"
	"github.com/pygmalion/accounts/internal/auth/authtest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const testIssuer = "accounts-test"

type fixture struct {
	store    *authtest.Store
	notifier *authtest.Notifier
	clock    *authtest.Clock
	issuer   *auth.JWTIssuer
	logs     *bytes.Buffer

	authn    *auth.Authenticator
	reg      *auth.RegistrationService
	reset    *auth.PasswordResetService
	rotator  *auth.RefreshTokenRotator
	accounts *auth.AccountService
}

func newFixture(t *testing.T, mutate ...func(*auth.Config)) *fixture {
	t.Helper()

	f := &fixture{
		store:    authtest.NewStore(),
		notifier: authtest.NewNotifier(),
		clock:    authtest.NewClock(time.Now().UTC().Truncate(time.Second)),
		logs:     &bytes.Buffer{},
	}

	cfg := auth.DefaultConfig()
	cfg.Clock = f.clock.Now
	for _, m := range mutate {
		m(&cfg)
	}

	issuer, err := auth.NewJWTIssuer(testSecret, testIssuer, 0)
	require.NoError(t, err)
	f.issuer = issuer.WithClock(f.clock.Now)

	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hasher := authtest.NewHasher()
	tokens := f.store.Tokens()

	f.authn, err = auth.NewAuthenticatorWithLogger(f.store, tokens, hasher, f.issuer, cfg, logger)
	require.NoError(t, err)
	f.reg, err = auth.NewRegistrationServiceWithLogger(f.store, hasher, f.notifier, cfg, logger)
	require.NoError(t, err)
	f.reset, err = auth.NewPasswordResetServiceWithLogger(f.store, tokens, hasher, f.notifier, cfg, logger)
	require.NoError(t, err)
	f.rotator, err = auth.NewRefreshTokenRotatorWithLogger(f.store, tokens, f.issuer, cfg, logger)
	require.NoError(t, err)
	f.accounts, err = auth.NewAccountServiceWithLogger(f.store, tokens, hasher, cfg, logger)
	require.NoError(t, err)

	return f
}

// register signs up an account and returns the verification token sent to it.
func (f *fixture) register(t *testing.T, email, password string) string {
	t.Helper()
	require.NoError(t, f.reg.Register(context.Background(), auth.RegisterInput{
		Email:       email,
		Password:    password,
		AcceptTerms: true,
	}))
	token := f.notifier.LastToken()
	require.Len(t, token, 80)
	return token
}

// registerVerified signs up and verifies an account.
func (f *fixture) registerVerified(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.reg.VerifyEmail(ctx, f.register(t, email, password)))
	account, err := f.store.GetByEmail(ctx, email)
	require.NoError(t, err)
	return account
}

// login authenticates a verified account and returns the result.
func (f *fixture) login(t *testing.T, email, password string) *auth.AuthResult {
	t.Helper()
	result, err := f.authn.Authenticate(context.Background(), email, password, "10.0.0.1")
	require.NoError(t, err)
	return result
}
