package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenteraid/transparency-api/internal/models"
)

func newUserMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "full_name", "role", "active",
		"last_login", "created_at", "updated_at",
	})
}

func TestUserFindByEmailIgnoresCasing(t *testing.T) {
	repo, mock := newUserMock(t)

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash, full_name, role, active, last_login, created_at, updated_at FROM users WHERE email = LOWER($1) LIMIT 1")).
		WithArgs("Staff@LenteraID.org").
		WillReturnRows(userRows().AddRow(
			"u1", "staff@lenteraid.org", "hash", "Siti Rahma", "STAFF", true,
			nil, now, now,
		))

	user, err := repo.FindByEmail(context.Background(), "Staff@LenteraID.org")
	require.NoError(t, err)
	assert.Equal(t, "staff@lenteraid.org", user.Email)
	assert.Equal(t, models.RoleStaff, user.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newUserMock(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{
		Email:    "staff@lenteraid.org",
		FullName: "Siti Rahma",
		Role:     models.RoleStaff,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUserUpdateMissingRow(t *testing.T) {
	repo, mock := newUserMock(t)

	mock.ExpectExec("UPDATE users SET full_name").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.User{ID: "gone", FullName: "Siti Rahma", Role: models.RoleStaff})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUserDeleteRevokesSessions(t *testing.T) {
	repo, mock := newUserMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserDeleteMissingRowRollsBack(t *testing.T) {
	repo, mock := newUserMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET active = FALSE").
		WithArgs("gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "gone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
