// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role of an account.
type Role string

// Account roles.
const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
	RoleJudge Role = "Judge"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleJudge:
		return true
	}
	return false
}

// ParseRole converts a string to a Role, case-insensitively.
func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleAdmin, RoleUser, RoleJudge} {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", oops.Code("ACCOUNT_INVALID_ROLE").
		With("role", s).
		Errorf("unknown role %q", s)
}

// ResetToken is a pending password reset.
type ResetToken struct {
	TokenHash string
	ExpiresAt time.Time
}

// IsExpiredAt returns true if the reset token would be expired at t.
func (r *ResetToken) IsExpiredAt(t time.Time) bool {
	return !r.ExpiresAt.After(t)
}

// Account represents a platform account.
type Account struct {
	ID                    ulid.ULID
	Email                 string
	PasswordHash          string
	Role                  Role
	Title                 string
	FirstName             string
	LastName              string
	AcceptTerms           bool
	VerificationTokenHash *string
	VerifiedAt            *time.Time
	ResetToken            *ResetToken
	PasswordResetAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile holds the descriptive account fields.
type Profile struct {
	Title       string
	FirstName   string
	LastName    string
	AcceptTerms bool
}

// NewAccount creates a validated Account with the given role.
// The email is normalized; the password hash must already be computed.
func NewAccount(email, passwordHash string, role Role, profile Profile, now time.Time) (*Account, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_PASSWORD").Errorf("password hash cannot be empty")
	}
	if !role.Valid() {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").With("role", string(role)).Errorf("invalid role")
	}

	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Role:         role,
		Title:        profile.Title,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		AcceptTerms:  profile.AcceptTerms,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsVerified reports whether the account owner has proven control of the
// mailbox, either by verifying the email or by completing a password reset.
func (a *Account) IsVerified() bool {
	return a.VerifiedAt != nil || a.PasswordResetAt != nil
}

// IsAdmin reports whether the account holds the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// AccountSummary is the account view returned to callers. It never carries
// password or token material.
type AccountSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	FirstName  string    `json:"firstName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"created"`
	UpdatedAt  time.Time `json:"updated"`
	IsVerified bool      `json:"isVerified"`
}

// Summary returns the public view of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:         a.ID.String(),
		Title:      a.Title,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Email:      a.Email,
		Role:       a.Role,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		IsVerified: a.IsVerified(),
	}
}

// AccountRepository manages account persistence.
//
// Lookups return ErrNotFound (possibly wrapped) when no account matches.
// Email comparisons are case-insensitive and uniqueness is enforced by the
// storage layer; a conflicting write returns ErrDuplicateEmail.
type AccountRepository interface {
	// CreateWithBootstrap stores a new account. If no account has ever claimed
	// the first-admin slot, the claim and the insert happen atomically and the
	// account's Role is set to RoleAdmin before it is stored.
	CreateWithBootstrap(ctx context.Context, account *Account) error

	// Create stores a new account with the role it already carries.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByResetToken retrieves the account holding the reset token hash
	// whose expiry is after now.
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*Account, error)

	// List returns all accounts ordered by creation time.
	List(ctx context.Context) ([]*Account, error)

	// Count returns the number of accounts.
	Count(ctx context.Context) (int64, error)

	// CountByRole returns the number of accounts holding role.
	CountByRole(ctx context.Context, role Role) (int64, error)

	// Update saves Email, PasswordHash, Role, Title, FirstName, LastName and
	// UpdatedAt. Verification and reset state are untouched. Demoting the last
	// admin returns ErrLastAdmin.
	Update(ctx context.Context, account *Account) error

	// MarkVerified sets VerifiedAt on the account holding the verification
	// token hash and clears the token. It returns the account's ID.
	MarkVerified(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error)

	// SetResetToken stores token on the account, replacing any earlier one.
	SetResetToken(ctx context.Context, id ulid.ULID, token ResetToken, now time.Time) error

	// ConsumeResetToken sets the password hash of the account holding the
	// reset token hash, provided the token expires after now, and clears the
	// token. It returns the account's ID. A token is consumed at most once.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error)

	// ReplacePasswordHash stores newHash only while the stored hash is still
	// oldHash. It returns ErrNotFound otherwise.
	ReplacePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error

	// DeleteUnlessLastAdmin removes the account unless it is the only admin,
	// in which case ErrLastAdmin is returned and nothing changes.
	DeleteUnlessLastAdmin(ctx context.Context, id ulid.ULID) error
}
