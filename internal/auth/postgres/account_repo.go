// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pygmalion/accounts/internal/auth"
)

// emailConstraint is the partial unique index on LOWER(email).
const emailConstraint = "accounts_email_key"

// adminLockKey serializes transactions that may remove an admin.
const adminLockKey int64 = 0x7079676d61646d6e

const accountColumns = `id, email, password_hash, role, title, first_name, last_name,
	accept_terms, verification_token_hash, verified_at, reset_token_hash,
	reset_token_expires_at, password_reset_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
// Deleted accounts are kept with deleted_at set and are invisible to every query.
type AccountRepository struct {
	db    DB
	clock func() time.Time
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db, clock: time.Now}
}

// CreateWithBootstrap stores the account, claiming the bootstrap slot in the
// same transaction. The claiming account is stored as an admin.
func (r *AccountRepository) CreateWithBootstrap(ctx context.Context, account *auth.Account) error {
	originalRole := account.Role
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		claimed, err := claimBootstrap(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if claimed {
			account.Role = auth.RoleAdmin
		}
		return insertAccount(ctx, tx, account)
	})
	if err != nil {
		account.Role = originalRole
		return r.createError(account, err)
	}
	return nil
}

// Create stores the account with the role it carries. It also claims the
// bootstrap slot so a later registration is never promoted.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := claimBootstrap(ctx, tx, account.ID); err != nil {
			return err
		}
		return insertAccount(ctx, tx, account)
	})
	if err != nil {
		return r.createError(account, err)
	}
	return nil
}

func (r *AccountRepository) createError(account *auth.Account, err error) error {
	if isUniqueViolation(err, emailConstraint) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
			With("email", account.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	return oops.Code("ACCOUNT_CREATE_FAILED").
		With("operation", "insert account").
		With("email", account.Email).
		Wrap(err)
}

func claimBootstrap(ctx context.Context, q querier, id ulid.ULID) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO admin_bootstrap (account_id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, id.String())
	if err != nil {
		return false, oops.With("operation", "claim bootstrap").Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func insertAccount(ctx context.Context, q querier, a *auth.Account) error {
	resetHash, resetExpires := resetColumns(a)
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, role, title, first_name, last_name,
			accept_terms, verification_token_hash, verified_at, reset_token_hash,
			reset_token_expires_at, password_reset_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		a.ID.String(),
		a.Email,
		a.PasswordHash,
		string(a.Role),
		a.Title,
		a.FirstName,
		a.LastName,
		a.AcceptTerms,
		a.VerificationTokenHash,
		a.VerifiedAt,
		resetHash,
		resetExpires,
		a.PasswordResetAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err //nolint:wrapcheck // classified by the caller
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// GetByResetToken retrieves the account holding an unexpired reset token.
func (r *AccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $2 AND deleted_at IS NULL
	`, tokenHash, now)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_TOKEN_FAILED").
			With("operation", "get account by reset token").
			Wrap(err)
	}
	return account, nil
}

// List returns all accounts, oldest first.
func (r *AccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE deleted_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "list accounts").Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan account row").Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "iterate accounts").Wrap(err)
	}
	return accounts, nil
}

// Count returns the number of live accounts.
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").With("operation", "count accounts").Wrap(err)
	}
	return n, nil
}

// CountByRole returns the number of live accounts holding role.
func (r *AccountRepository) CountByRole(ctx context.Context, role auth.Role) (int64, error) {
	n, err := countRole(ctx, r.db, role)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").
			With("operation", "count accounts by role").
			With("role", string(role)).
			Wrap(err)
	}
	return n, nil
}

func countRole(ctx context.Context, q querier, role auth.Role) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM accounts WHERE role = $1 AND deleted_at IS NULL
	`, string(role)).Scan(&n)
	return n, err //nolint:wrapcheck // callers wrap with operation context
}

// Update saves the administrator-editable fields: email, password hash, role
// and names. Verification and reset state are left to their own operations.
// Demoting the last admin fails with auth.ErrLastAdmin.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()

	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		current, err := lockAccountRole(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if current == auth.RoleAdmin && account.Role != auth.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, account.ID); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts SET
				email = $2,
				password_hash = $3,
				role = $4,
				title = $5,
				first_name = $6,
				last_name = $7,
				updated_at = $8
			WHERE id = $1
		`,
			id,
			account.Email,
			account.PasswordHash,
			string(account.Role),
			account.Title,
			account.FirstName,
			account.LastName,
			account.UpdatedAt,
		)
		if isUniqueViolation(err, emailConstraint) {
			return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
				With("email", account.Email).
				Wrap(auth.ErrDuplicateEmail)
		}
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", id).
			Wrap(err)
	}
	return nil
}

// MarkVerified consumes a verification token, stamping verified_at on the
// account that held it.
func (r *AccountRepository) MarkVerified(ctx context.Context, tokenHash string, now time.Time) (ulid.ULID, error) {
	var idStr string
	err := r.db.QueryRow(ctx, `
		UPDATE accounts SET
			verified_at = $2,
			verification_token_hash = NULL,
			updated_at = $2
		WHERE verification_token_hash = $1 AND deleted_at IS NULL
		RETURNING id
	`, tokenHash, now).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCOUNT_VERIFY_FAILED").
			With("operation", "mark account verified").
			Wrap(err)
	}
	return parseReturnedID(idStr)
}

// SetResetToken stores token on the account, replacing any earlier one.
func (r *AccountRepository) SetResetToken(ctx context.Context, id ulid.ULID, token auth.ResetToken, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			reset_token_hash = $2,
			reset_token_expires_at = $3,
			updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), token.TokenHash, token.ExpiresAt, now)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken replaces the password of the account holding the
// unexpired reset token and clears the token in one statement, so a token
// changes the password at most once.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (ulid.ULID, error) {
	var idStr string
	err := r.db.QueryRow(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			password_reset_at = $3,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = $3
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $3 AND deleted_at IS NULL
		RETURNING id
	`, tokenHash, passwordHash, now).Scan(&idStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return parseReturnedID(idStr)
}

// ReplacePasswordHash swaps oldHash for newHash. It fails with
// auth.ErrNotFound when the stored hash is no longer oldHash.
func (r *AccountRepository) ReplacePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2 AND deleted_at IS NULL
	`, id.String(), oldHash, newHash, now)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "replace password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func parseReturnedID(idStr string) (ulid.ULID, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	return id, nil
}

// DeleteUnlessLastAdmin soft-deletes the account unless it is the only admin.
func (r *AccountRepository) DeleteUnlessLastAdmin(ctx context.Context, id ulid.ULID) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		current, err := lockAccountRole(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == auth.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, id); err != nil {
				return err
			}
		}

		now := r.clock().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE accounts SET deleted_at = $2, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL
		`, id.String(), now)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// lockAccountRole row-locks a live account and returns its stored role.
func lockAccountRole(ctx context.Context, tx pgx.Tx, id ulid.ULID) (auth.Role, error) {
	var role string
	err := tx.QueryRow(ctx, `
		SELECT role FROM accounts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, id.String()).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.With("operation", "lock account").Wrap(err)
	}
	return auth.Role(role), nil
}

// ensureOtherAdmin fails with auth.ErrLastAdmin unless another admin exists.
// The advisory lock makes concurrent demotions of two different admins
// observe each other.
func ensureOtherAdmin(ctx context.Context, tx pgx.Tx, id ulid.ULID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, adminLockKey); err != nil {
		return oops.With("operation", "lock admins").Wrap(err)
	}
	admins, err := countRole(ctx, tx, auth.RoleAdmin)
	if err != nil {
		return oops.With("operation", "count admins").Wrap(err)
	}
	if admins <= 1 {
		return oops.Code("ACCOUNT_LAST_ADMIN").
			With("account_id", id.String()).
			Wrap(auth.ErrLastAdmin)
	}
	return nil
}

func resetColumns(a *auth.Account) (*string, *time.Time) {
	if a.ResetToken == nil {
		return nil, nil
	}
	hash := a.ResetToken.TokenHash
	expires := a.ResetToken.ExpiresAt
	return &hash, &expires
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr        string
		a            auth.Account
		role         string
		resetHash    *string
		resetExpires *time.Time
	)

	err := row.Scan(
		&idStr,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.Title,
		&a.FirstName,
		&a.LastName,
		&a.AcceptTerms,
		&a.VerificationTokenHash,
		&a.VerifiedAt,
		&resetHash,
		&resetExpires,
		&a.PasswordResetAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	a.Role = auth.Role(role)
	if resetHash != nil && resetExpires != nil {
		a.ResetToken = &auth.ResetToken{TokenHash: *resetHash, ExpiresAt: *resetExpires}
	}
	return &a, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
