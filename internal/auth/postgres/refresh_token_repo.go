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

const refreshTokenColumns = `id, account_id, token_hash, created_at, expires_at,
	created_by_ip, revoked_at, revoked_by_ip, replaced_by_hash`

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	if err := insertRefreshToken(ctx, r.db, token); err != nil {
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

func insertRefreshToken(ctx context.Context, q querier, t *auth.RefreshToken) error {
	_, err := q.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, account_id, token_hash, created_at, expires_at,
			created_by_ip, revoked_at, revoked_by_ip, replaced_by_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		t.ID.String(),
		t.AccountID.String(),
		t.TokenHash,
		t.CreatedAt,
		t.ExpiresAt,
		t.CreatedByIP,
		t.RevokedAt,
		t.RevokedByIP,
		t.ReplacedByHash,
	)
	return err //nolint:wrapcheck // callers wrap with operation context
}

// GetByHash retrieves a token by its hash.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

// Revoke persists the revoked state of a token that is still unrevoked in
// storage. A token revoked concurrently yields auth.ErrNotFound.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token *auth.RefreshToken) error {
	if err := revokeRefreshToken(ctx, r.db, token); err != nil {
		return oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("id", token.ID.String()).
			Wrap(err)
	}
	return nil
}

func revokeRefreshToken(ctx context.Context, q querier, t *auth.RefreshToken) error {
	if t.RevokedAt == nil {
		return oops.Code("REFRESH_TOKEN_NOT_REVOKED").Errorf("token carries no revocation time")
	}
	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, replaced_by_hash = $4
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, t.TokenHash, *t.RevokedAt, t.RevokedByIP, t.ReplacedByHash)
	if err != nil {
		return err //nolint:wrapcheck // callers wrap with operation context
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("REFRESH_TOKEN_NOT_FOUND").
			With("id", t.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Rotate revokes the predecessor and stores its successor in one transaction.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, revoked, successor *auth.RefreshToken) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := revokeRefreshToken(ctx, tx, revoked); err != nil {
			return err
		}
		return insertRefreshToken(ctx, tx, successor)
	})
	if err != nil {
		return oops.Code("REFRESH_TOKEN_ROTATE_FAILED").
			With("operation", "rotate refresh token").
			With("id", revoked.ID.String()).
			Wrap(err)
	}
	return nil
}

// RevokeAllForAccount revokes every active token of the account.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, at time.Time, ip string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = NULLIF($3, '')
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, accountID.String(), at, ip)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_ALL_FAILED").
			With("operation", "revoke account tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// ListByAccount returns every token of the account, newest first.
func (r *RefreshTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").
			With("operation", "list account tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").With("operation", "scan token row").Wrap(err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").With("operation", "iterate tokens").Wrap(err)
	}
	return tokens, nil
}

// scanRefreshToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		t            auth.RefreshToken
		idStr        string
		accountIDStr string
	)
	err := row.Scan(
		&idStr,
		&accountIDStr,
		&t.TokenHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.CreatedByIP,
		&t.RevokedAt,
		&t.RevokedByIP,
		&t.ReplacedByHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_TOKEN_SCAN_FAILED").
			With("operation", "scan refresh token").
			Wrap(err)
	}

	if t.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if t.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_ACCOUNT").With("account_id", accountIDStr).Wrap(err)
	}
	return &t, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
