// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pygmalion/accounts/internal/auth"
)

var accountColumnNames = []string{
	"id", "email", "password_hash", "role", "title", "first_name", "last_name",
	"accept_terms", "verification_token_hash", "verified_at", "reset_token_hash",
	"reset_token_expires_at", "password_reset_at", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func testAccount(role auth.Role) *auth.Account {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Account{
		ID:           ulid.Make(),
		Email:        "ana@example.com",
		PasswordHash: "hash",
		Role:         role,
		FirstName:    "Ana",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func accountRow(a *auth.Account, resetHash *string, resetExpires *time.Time) []any {
	return []any{
		a.ID.String(), a.Email, a.PasswordHash, string(a.Role), a.Title, a.FirstName, a.LastName,
		a.AcceptTerms, a.VerificationTokenHash, a.VerifiedAt, resetHash,
		resetExpires, a.PasswordResetAt, a.CreatedAt, a.UpdatedAt,
	}
}

// insertArgs lists the INSERT parameters for an account without a reset token.
func insertArgs(a *auth.Account, role auth.Role) []any {
	var (
		resetHash    *string
		resetExpires *time.Time
	)
	return []any{
		a.ID.String(), a.Email, a.PasswordHash, string(role), a.Title, a.FirstName, a.LastName,
		a.AcceptTerms, a.VerificationTokenHash, a.VerifiedAt, resetHash,
		resetExpires, a.PasswordResetAt, a.CreatedAt, a.UpdatedAt,
	}
}

func updateArgs(a *auth.Account) []any {
	return []any{
		a.ID.String(), a.Email, a.PasswordHash, string(a.Role), a.Title, a.FirstName, a.LastName, a.UpdatedAt,
	}
}

func uniqueEmailViolation() error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: emailConstraint}
}

func TestAccountRepository_GetByID(t *testing.T) {
	stored := testAccount(auth.RoleJudge)
	resetHash := "reset-hash"
	resetExpires := stored.CreatedAt.Add(24 * time.Hour)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		errMsg    string
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts`).
					WithArgs(stored.ID.String()).
					WillReturnRows(pgxmock.NewRows(accountColumnNames).
						AddRow(accountRow(stored, &resetHash, &resetExpires)...))
			},
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts`).
					WithArgs(stored.ID.String()).
					WillReturnRows(pgxmock.NewRows(accountColumnNames))
			},
			wantErr: auth.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts`).
					WithArgs(stored.ID.String()).
					WillReturnError(errors.New("connection refused"))
			},
			errMsg: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewAccountRepository(mock).GetByID(context.Background(), stored.ID)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.NotErrorIs(t, err, auth.ErrNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, stored.ID, got.ID)
				assert.Equal(t, stored.Email, got.Email)
				assert.Equal(t, auth.RoleJudge, got.Role)
				require.NotNil(t, got.ResetToken)
				assert.Equal(t, resetHash, got.ResetToken.TokenHash)
				assert.Equal(t, resetExpires, got.ResetToken.ExpiresAt)
				assert.Nil(t, got.VerifiedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestAccountRepository_CreateWithBootstrap(t *testing.T) {
	tests := []struct {
		name       string
		claimed    int64
		insert     error
		insertRole auth.Role
		wantRole   auth.Role
		wantErr    error
	}{
		{name: "first account claims admin", claimed: 1, insertRole: auth.RoleAdmin, wantRole: auth.RoleAdmin},
		{name: "later account keeps role", claimed: 0, insertRole: auth.RoleUser, wantRole: auth.RoleUser},
		{name: "duplicate email releases claim", claimed: 1, insert: uniqueEmailViolation(), insertRole: auth.RoleAdmin, wantRole: auth.RoleUser, wantErr: auth.ErrDuplicateEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			account := testAccount(auth.RoleUser)

			mock.ExpectBegin()
			mock.ExpectExec(`INSERT INTO admin_bootstrap`).
				WithArgs(account.ID.String()).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.claimed))
			insert := mock.ExpectExec(`INSERT INTO accounts`).
				WithArgs(insertArgs(account, tt.insertRole)...)
			if tt.insert != nil {
				insert.WillReturnError(tt.insert)
				mock.ExpectRollback()
			} else {
				insert.WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			}

			err := NewAccountRepository(mock).CreateWithBootstrap(context.Background(), account)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRole, account.Role)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_Create_ClaimsBootstrapWithoutPromoting(t *testing.T) {
	mock := newMock(t)
	account := testAccount(auth.RoleJudge)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO admin_bootstrap`).
		WithArgs(account.ID.String()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(insertArgs(account, auth.RoleJudge)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewAccountRepository(mock).Create(context.Background(), account))
	assert.Equal(t, auth.RoleJudge, account.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Update(t *testing.T) {
	tests := []struct {
		name       string
		storedRole string
		newRole    auth.Role
		admins     int64
		updateErr  error
		wantErr    error
		missing    bool
	}{
		{name: "profile change", storedRole: "User", newRole: auth.RoleUser},
		{name: "demote one of two admins", storedRole: "Admin", newRole: auth.RoleUser, admins: 2},
		{name: "demote last admin", storedRole: "Admin", newRole: auth.RoleJudge, admins: 1, wantErr: auth.ErrLastAdmin},
		{name: "email taken", storedRole: "User", newRole: auth.RoleUser, updateErr: uniqueEmailViolation(), wantErr: auth.ErrDuplicateEmail},
		{name: "missing account", missing: true, newRole: auth.RoleUser, wantErr: auth.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			account := testAccount(tt.newRole)

			mock.ExpectBegin()
			roleRows := pgxmock.NewRows([]string{"role"})
			if !tt.missing {
				roleRows.AddRow(tt.storedRole)
			}
			mock.ExpectQuery(`SELECT role FROM accounts`).
				WithArgs(account.ID.String()).
				WillReturnRows(roleRows)

			if tt.admins > 0 {
				mock.ExpectExec(`pg_advisory_xact_lock`).
					WithArgs(adminLockKey).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectQuery(`SELECT count`).
					WithArgs("Admin").
					WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(tt.admins))
			}

			reachesUpdate := !tt.missing && (tt.admins == 0 || tt.admins > 1)
			if reachesUpdate {
				update := mock.ExpectExec(`UPDATE accounts SET`).
					WithArgs(updateArgs(account)...)
				if tt.updateErr != nil {
					update.WillReturnError(tt.updateErr)
				} else {
					update.WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				}
			}
			if tt.wantErr != nil {
				mock.ExpectRollback()
			} else {
				mock.ExpectCommit()
			}

			err := NewAccountRepository(mock).Update(context.Background(), account)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_DeleteUnlessLastAdmin(t *testing.T) {
	t.Run("soft deletes a user", func(t *testing.T) {
		mock := newMock(t)
		id := ulid.Make()
		repo := NewAccountRepository(mock)
		deletedAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		repo.clock = func() time.Time { return deletedAt }

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM accounts`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("User"))
		mock.ExpectExec(`UPDATE accounts SET deleted_at`).
			WithArgs(id.String(), deletedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.DeleteUnlessLastAdmin(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses the last admin", func(t *testing.T) {
		mock := newMock(t)
		id := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM accounts`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("Admin"))
		mock.ExpectExec(`pg_advisory_xact_lock`).
			WithArgs(adminLockKey).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery(`SELECT count`).
			WithArgs("Admin").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectRollback()

		err := NewAccountRepository(mock).DeleteUnlessLastAdmin(context.Background(), id)
		require.ErrorIs(t, err, auth.ErrLastAdmin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_List(t *testing.T) {
	mock := newMock(t)
	first := testAccount(auth.RoleAdmin)
	second := testAccount(auth.RoleUser)
	second.Email = "ben@example.com"

	mock.ExpectQuery(`ORDER BY created_at`).
		WillReturnRows(pgxmock.NewRows(accountColumnNames).
			AddRow(accountRow(first, nil, nil)...).
			AddRow(accountRow(second, nil, nil)...))

	got, err := NewAccountRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, "ben@example.com", got[1].Email)
	assert.Nil(t, got[1].ResetToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Counts(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT count`).
		WithArgs("Judge").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	repo := NewAccountRepository(mock)
	total, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	judges, err := repo.CountByRole(context.Background(), auth.RoleJudge)
	require.NoError(t, err)
	assert.Equal(t, int64(2), judges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByResetToken_PassesNow(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`reset_token_expires_at > \$2`).
		WithArgs("hash", now).
		WillReturnRows(pgxmock.NewRows(accountColumnNames))

	_, err := NewAccountRepository(mock).GetByResetToken(context.Background(), "hash", now)
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_MarkVerified(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id := ulid.Make()

	t.Run("returns the verified account", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`UPDATE accounts SET\s+verified_at`).
			WithArgs("verify-hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id.String()))

		got, err := NewAccountRepository(mock).MarkVerified(context.Background(), "verify-hash", now)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown or used token", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`UPDATE accounts SET\s+verified_at`).
			WithArgs("verify-hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := NewAccountRepository(mock).MarkVerified(context.Background(), "verify-hash", now)
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_SetResetToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id := ulid.Make()
	token := auth.ResetToken{TokenHash: "reset-hash", ExpiresAt: now.Add(24 * time.Hour)}

	tests := []struct {
		name     string
		affected int64
		execErr  error
		wantErr  error
		errMsg   string
	}{
		{name: "stores the token", affected: 1},
		{name: "deleted account", affected: 0, wantErr: auth.ErrNotFound},
		{name: "database error", execErr: errors.New("connection reset"), errMsg: "connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exec := mock.ExpectExec(`UPDATE accounts SET\s+reset_token_hash = \$2`).
				WithArgs(id.String(), "reset-hash", token.ExpiresAt, now)
			if tt.execErr != nil {
				exec.WillReturnError(tt.execErr)
			} else {
				exec.WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))
			}

			err := NewAccountRepository(mock).SetResetToken(context.Background(), id, token, now)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.NotErrorIs(t, err, auth.ErrNotFound)
			default:
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_ConsumeResetToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id := ulid.Make()

	t.Run("sets the password and clears the token", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`reset_token_hash = \$1 AND reset_token_expires_at > \$3`).
			WithArgs("reset-hash", "new-hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id.String()))

		got, err := NewAccountRepository(mock).ConsumeResetToken(context.Background(), "reset-hash", "new-hash", now)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already consumed", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`reset_token_hash = \$1 AND reset_token_expires_at > \$3`).
			WithArgs("reset-hash", "new-hash", now).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := NewAccountRepository(mock).ConsumeResetToken(context.Background(), "reset-hash", "new-hash", now)
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_ReplacePasswordHash(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id := ulid.Make()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "hash unchanged since read", affected: 1},
		{name: "hash changed since read", affected: 0, wantErr: auth.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectExec(`WHERE id = \$1 AND password_hash = \$2`).
				WithArgs(id.String(), "$2a$10$legacy", "$argon2id$new", now).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err := NewAccountRepository(mock).ReplacePasswordHash(context.Background(), id, "$2a$10$legacy", "$argon2id$new", now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
