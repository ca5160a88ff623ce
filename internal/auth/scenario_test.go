// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pygmalion/accounts/internal/auth"
	"github.com/pygmalion/accounts/pkg/errutil"
)

func TestRegister_FirstAccountIsAdminAndVerifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token := f.register(t, "a@x.com", "secret1")

	account, err := f.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, account.Role)
	assert.False(t, account.IsVerified())
	require.NotNil(t, account.VerificationTokenHash)
	assert.Equal(t, auth.HashToken(token), *account.VerificationTokenHash)

	msg, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, auth.SubjectVerifyEmail, msg.Subject)

	require.NoError(t, f.reg.VerifyEmail(ctx, token))

	account, err = f.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, account.VerifiedAt)
	assert.Equal(t, f.clock.Now(), *account.VerifiedAt)
	assert.Nil(t, account.VerificationTokenHash)
	assert.True(t, account.IsVerified())

	t.Run("verification token is single use", func(t *testing.T) {
		err := f.reg.VerifyEmail(ctx, token)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOKEN")
	})

	t.Run("second account is a user", func(t *testing.T) {
		f.register(t, "b@x.com", "secret2")
		second, err := f.store.GetByEmail(ctx, "b@x.com")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleUser, second.Role)
	})
}

func TestRegister_DuplicateEmailIsIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "a@x.com", "secret1")
	before := testutil.ToFloat64(auth.Registrations.WithLabelValues(auth.RegistrationDuplicate))

	err := f.reg.Register(ctx, auth.RegisterInput{Email: "  A@X.com ", Password: "other", Origin: "https://site.example"})
	require.NoError(t, err)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, auth.SubjectAlreadyRegistered, msg.Subject)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Contains(t, msg.HTMLBody, "https://site.example/account/forgot-password")
	assert.Equal(t, before+1, testutil.ToFloat64(auth.Registrations.WithLabelValues(auth.RegistrationDuplicate)))
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "deadbeef"} {
		err := f.reg.VerifyEmail(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	}
}

func TestAuthenticate_FailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "a@x.com", "secret1")

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password before verification", "a@x.com", "wrong"},
		{"right password before verification", "a@x.com", "secret1"},
		{"unknown email", "nobody@x.com", "secret1"},
	}

	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.authn.Authenticate(ctx, tc.email, tc.password, "10.0.0.1")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
			messages = append(messages, err.Error())
		})
	}

	require.Len(t, messages, len(cases))
	for _, m := range messages[1:] {
		assert.Equal(t, messages[0], m)
	}
}

func TestAuthenticate_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.registerVerified(t, "a@x.com", "secret1")

	result, err := f.authn.Authenticate(ctx, "A@x.com", "secret1", "10.0.0.1")
	require.NoError(t, err)

	now := f.clock.Now()
	assert.Equal(t, account.ID.String(), result.Account.ID)
	assert.Equal(t, auth.RoleAdmin, result.Account.Role)
	assert.True(t, result.Account.IsVerified)
	assert.Equal(t, now.Add(auth.DefaultAccessTokenTTL), result.AccessExpiresAt)
	assert.Equal(t, now.Add(auth.DefaultRefreshTokenTTL), result.RefreshExpiresAt)
	assert.Len(t, result.RefreshToken, 80)

	claims, err := f.issuer.Parse(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	stored, err := f.store.Tokens().GetByHash(ctx, auth.HashToken(result.RefreshToken))
	require.NoError(t, err)
	assert.True(t, stored.IsActiveAt(now))
	assert.Equal(t, "10.0.0.1", stored.CreatedByIP)
	assert.Equal(t, account.ID, stored.AccountID)

	t.Run("summary carries no secrets", func(t *testing.T) {
		raw, err := json.Marshal(result.Account)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), account.PasswordHash)
		assert.NotContains(t, string(raw), "password")
	})
}

func TestRefresh_RotationPreservesChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	first := f.login(t, "a@x.com", "secret1")

	f.clock.Advance(time.Minute)
	second, err := f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.2")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	now := f.clock.Now()
	old, err := f.store.Tokens().GetByHash(ctx, auth.HashToken(first.RefreshToken))
	require.NoError(t, err)
	assert.False(t, old.IsActiveAt(now))
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, now, *old.RevokedAt)
	require.NotNil(t, old.RevokedByIP)
	assert.Equal(t, "10.0.0.2", *old.RevokedByIP)
	require.NotNil(t, old.ReplacedByHash)
	assert.Equal(t, auth.HashToken(second.RefreshToken), *old.ReplacedByHash)

	successor, err := f.store.Tokens().GetByHash(ctx, auth.HashToken(second.RefreshToken))
	require.NoError(t, err)
	assert.True(t, successor.IsActiveAt(now))
	assert.Equal(t, old.AccountID, successor.AccountID)

	t.Run("rotated token fails refresh and revoke", func(t *testing.T) {
		_, err := f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.2")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		assert.ErrorIs(t, f.rotator.Revoke(ctx, first.RefreshToken, "10.0.0.2"), auth.ErrInvalidToken)
	})
}

func TestRefresh_InvalidTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	result := f.login(t, "a@x.com", "secret1")

	t.Run("absent", func(t *testing.T) {
		_, err := f.rotator.Refresh(ctx, "not-a-token", "10.0.0.1")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		_, err = f.rotator.Refresh(ctx, "", "10.0.0.1")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(auth.DefaultRefreshTokenTTL + time.Second)
		_, err := f.rotator.Refresh(ctx, result.RefreshToken, "10.0.0.1")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		assert.ErrorIs(t, f.rotator.Revoke(ctx, result.RefreshToken, "10.0.0.1"), auth.ErrInvalidToken)
	})
}

func TestRevoke_EndsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	result := f.login(t, "a@x.com", "secret1")

	require.NoError(t, f.rotator.Revoke(ctx, result.RefreshToken, "10.0.0.9"))

	stored, err := f.store.Tokens().GetByHash(ctx, auth.HashToken(result.RefreshToken))
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked())
	assert.Nil(t, stored.ReplacedByHash)

	_, err = f.rotator.Refresh(ctx, result.RefreshToken, "10.0.0.9")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.ErrorIs(t, f.rotator.Revoke(ctx, result.RefreshToken, "10.0.0.9"), auth.ErrInvalidToken)
}

func TestRefresh_ReuseRevokesDescendants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	first := f.login(t, "a@x.com", "secret1")

	second, err := f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	third, err := f.rotator.Refresh(ctx, second.RefreshToken, "10.0.0.1")
	require.NoError(t, err)

	before := testutil.ToFloat64(auth.RefreshTokenReuse)
	_, err = f.rotator.Refresh(ctx, first.RefreshToken, "203.0.113.7")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Equal(t, before+1, testutil.ToFloat64(auth.RefreshTokenReuse))

	latest, err := f.store.Tokens().GetByHash(ctx, auth.HashToken(third.RefreshToken))
	require.NoError(t, err)
	assert.True(t, latest.IsRevoked())

	_, err = f.rotator.Refresh(ctx, third.RefreshToken, "10.0.0.1")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Contains(t, f.logs.String(), "revoked refresh token presented again")
}

func TestRefresh_ReuseDetectionDisabled(t *testing.T) {
	f := newFixture(t, func(c *auth.Config) { c.ReuseDetection = false })
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	first := f.login(t, "a@x.com", "secret1")

	second, err := f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.1")
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.rotator.Refresh(ctx, second.RefreshToken, "10.0.0.1")
	assert.NoError(t, err)
}

func TestLineage_FollowsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	first := f.login(t, "a@x.com", "secret1")
	second, err := f.rotator.Refresh(ctx, first.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	third, err := f.rotator.Refresh(ctx, second.RefreshToken, "10.0.0.1")
	require.NoError(t, err)

	chain, err := f.rotator.Lineage(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, auth.HashToken(first.RefreshToken), chain[0].TokenHash)
	assert.Equal(t, auth.HashToken(second.RefreshToken), chain[1].TokenHash)
	assert.Equal(t, auth.HashToken(third.RefreshToken), chain[2].TokenHash)
	for i := 0; i < len(chain)-1; i++ {
		require.NotNil(t, chain[i].ReplacedByHash)
		assert.Equal(t, chain[i+1].TokenHash, *chain[i].ReplacedByHash)
	}

	_, err = f.rotator.Lineage(ctx, "unknown")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestForgotPassword_TokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")

	require.NoError(t, f.reset.ForgotPassword(ctx, "a@x.com", ""))
	token := f.notifier.LastToken()
	require.Len(t, token, 80)

	msg, _ := f.notifier.Last()
	assert.Equal(t, auth.SubjectResetPassword, msg.Subject)

	account, err := f.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, account.ResetToken)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), account.ResetToken.ExpiresAt)

	require.NoError(t, f.reset.ValidateResetToken(ctx, token))

	f.clock.Advance(24*time.Hour + time.Second)
	err = f.reset.ValidateResetToken(ctx, token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOKEN")
}

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.reset.ForgotPassword(context.Background(), "ghost@x.com", "https://site.example"))
	assert.Empty(t, f.notifier.Messages())
}

func TestForgotPassword_NewRequestReplacesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")

	require.NoError(t, f.reset.ForgotPassword(ctx, "a@x.com", ""))
	first := f.notifier.LastToken()
	require.NoError(t, f.reset.ForgotPassword(ctx, "a@x.com", ""))
	second := f.notifier.LastToken()

	require.NotEqual(t, first, second)
	assert.ErrorIs(t, f.reset.ValidateResetToken(ctx, first), auth.ErrInvalidToken)
	assert.NoError(t, f.reset.ValidateResetToken(ctx, second))
}

func TestResetPassword_ConsumesTokenAndEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Never verified: completing a reset proves mailbox control too.
	f.register(t, "a@x.com", "secret1")
	f.registerVerified(t, "b@x.com", "secret2")
	session := f.login(t, "b@x.com", "secret2")

	require.NoError(t, f.reset.ForgotPassword(ctx, "a@x.com", ""))
	resetA := f.notifier.LastToken()
	require.NoError(t, f.reset.ResetPassword(ctx, resetA, "newsecret"))

	assert.ErrorIs(t, f.reset.ValidateResetToken(ctx, resetA), auth.ErrInvalidToken)
	assert.ErrorIs(t, f.reset.ResetPassword(ctx, resetA, "again"), auth.ErrInvalidToken)

	account, err := f.store.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, account.PasswordResetAt)
	assert.Nil(t, account.ResetToken)
	assert.True(t, account.IsVerified())

	_, err = f.authn.Authenticate(ctx, "a@x.com", "secret1", "10.0.0.1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.authn.Authenticate(ctx, "a@x.com", "newsecret", "10.0.0.1")
	assert.NoError(t, err)

	t.Run("reset revokes existing refresh tokens", func(t *testing.T) {
		require.NoError(t, f.reset.ForgotPassword(ctx, "b@x.com", ""))
		require.NoError(t, f.reset.ResetPassword(ctx, f.notifier.LastToken(), "changed"))

		_, err := f.rotator.Refresh(ctx, session.RefreshToken, "10.0.0.1")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestIsVerified_Property(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name       string
		verifiedAt *time.Time
		resetAt    *time.Time
		want       bool
	}{
		{"neither", nil, nil, false},
		{"verified", &now, nil, true},
		{"reset", nil, &now, true},
		{"both", &now, &now, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &auth.Account{VerifiedAt: tc.verifiedAt, PasswordResetAt: tc.resetAt}
			assert.Equal(t, tc.want, a.IsVerified())
			assert.Equal(t, tc.want, a.Summary().IsVerified)
		})
	}
}

func TestConcurrentFirstRegistrations_OneAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			email := "user" + string(rune('a'+i)) + "@x.com"
			assert.NoError(t, f.reg.Register(ctx, auth.RegisterInput{Email: email, Password: "pw"}))
		}()
	}
	wg.Wait()

	admins, err := f.store.CountByRole(ctx, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)

	total, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)
}

func TestConcurrentRefresh_OneWinner(t *testing.T) {
	f := newFixture(t, func(c *auth.Config) { c.ReuseDetection = false })
	ctx := context.Background()
	f.registerVerified(t, "a@x.com", "secret1")
	result := f.login(t, "a@x.com", "secret1")

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rotator.Refresh(ctx, result.RefreshToken, "10.0.0.1")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}
