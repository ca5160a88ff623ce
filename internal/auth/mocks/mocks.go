// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

// Package mocks provides testify mocks of the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/pygmalion/accounts/internal/auth"
	"github.com/pygmalion/accounts/internal/notify"
)

// TestingT is the subset of *testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t TestingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

func account(ret mock.Arguments, i int) *auth.Account {
	if v := ret.Get(i); v != nil {
		return v.(*auth.Account)
	}
	return nil
}

func accountID(ret mock.Arguments, i int) ulid.ULID {
	if v := ret.Get(i); v != nil {
		return v.(ulid.ULID)
	}
	return ulid.ULID{}
}

func refreshToken(ret mock.Arguments, i int) *auth.RefreshToken {
	if v := ret.Get(i); v != nil {
		return v.(*auth.RefreshToken)
	}
	return nil
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t TestingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockAccountRepository) CreateWithBootstrap(ctx context.Context, a *auth.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockAccountRepository) Create(ctx context.Context, a *auth.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	ret := m.Called(ctx, id)
	return account(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	ret := m.Called(ctx, email)
	return account(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	ret := m.Called(ctx, tokenHash, now)
	return account(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	ret := m.Called(ctx)
	var out []*auth.Account
	if v := ret.Get(0); v != nil {
		out = v.([]*auth.Account)
	}
	return out, ret.Error(1)
}

func (m *MockAccountRepository) Count(ctx context.Context) (int64, error) {
	ret := m.Called(ctx)
	return ret.Get(0).(int64), ret.Error(1)
}

func (m *MockAccountRepository) CountByRole(ctx context.Context, role auth.Role) (int64, error) {
	ret := m.Called(ctx, role)
	return ret.Get(0).(int64), ret.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, a *auth.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockAccountRepository) MarkVerified(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	ret := m.Called(ctx, tokenHash, now)
	return accountID(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) SetResetToken(ctx context.Context, id ulid.ULID, token auth.ResetToken, now time.Time) error {
	return m.Called(ctx, id, token, now).Error(0)
}

func (m *MockAccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error) {
	ret := m.Called(ctx, tokenHash, passwordHash, now)
	return accountID(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) ReplacePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	return m.Called(ctx, id, oldHash, newHash, now).Error(0)
}

func (m *MockAccountRepository) DeleteUnlessLastAdmin(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

// MockRefreshTokenRepository mocks auth.RefreshTokenRepository.
type MockRefreshTokenRepository struct {
	mock.Mock
}

// NewMockRefreshTokenRepository creates a mock that asserts its expectations on cleanup.
func NewMockRefreshTokenRepository(t TestingT) *MockRefreshTokenRepository {
	m := &MockRefreshTokenRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	ret := m.Called(ctx, tokenHash)
	return refreshToken(ret, 0), ret.Error(1)
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, token *auth.RefreshToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockRefreshTokenRepository) Rotate(ctx context.Context, revoked, successor *auth.RefreshToken) error {
	return m.Called(ctx, revoked, successor).Error(0)
}

func (m *MockRefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, at time.Time, ip string) (int64, error) {
	ret := m.Called(ctx, accountID, at, ip)
	return ret.Get(0).(int64), ret.Error(1)
}

func (m *MockRefreshTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	ret := m.Called(ctx, accountID)
	var out []*auth.RefreshToken
	if v := ret.Get(0); v != nil {
		out = v.([]*auth.RefreshToken)
	}
	return out, ret.Error(1)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockAccessTokenIssuer mocks auth.AccessTokenIssuer.
type MockAccessTokenIssuer struct {
	mock.Mock
}

// NewMockAccessTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockAccessTokenIssuer(t TestingT) *MockAccessTokenIssuer {
	m := &MockAccessTokenIssuer{}
	register(t, &m.Mock)
	return m
}

func (m *MockAccessTokenIssuer) Issue(a *auth.Account, now time.Time) (string, time.Time, error) {
	ret := m.Called(a, now)
	return ret.String(0), ret.Get(1).(time.Time), ret.Error(2)
}

func (m *MockAccessTokenIssuer) Parse(token string) (*auth.AccessClaims, error) {
	ret := m.Called(token)
	var claims *auth.AccessClaims
	if v := ret.Get(0); v != nil {
		claims = v.(*auth.AccessClaims)
	}
	return claims, ret.Error(1)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t TestingT) *MockNotifier {
	m := &MockNotifier{}
	register(t, &m.Mock)
	return m
}

func (m *MockNotifier) Notify(ctx context.Context, msg notify.Message) {
	m.Called(ctx, msg)
}

var (
	_ auth.AccountRepository      = (*MockAccountRepository)(nil)
	_ auth.RefreshTokenRepository = (*MockRefreshTokenRepository)(nil)
	_ auth.PasswordHasher         = (*MockPasswordHasher)(nil)
	_ auth.AccessTokenIssuer      = (*MockAccessTokenIssuer)(nil)
	_ auth.Notifier               = (*MockNotifier)(nil)
)
