package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lenteraid/transparency-api/internal/models"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	refreshTokens    map[string]*models.RefreshToken
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	revokedAllFor    string
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	if m.userByID != nil && m.userByID.ID == id {
		return m.userByID, nil
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	m.revokedAllFor = userID
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newAuthServiceForTest(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "transparency-api",
	})
}

func TestAuthLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "admin@lenteraid.org", PasswordHash: string(password), Active: true, Role: models.RoleAdmin}}
	svc := newAuthServiceForTest(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@lenteraid.org", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "admin@lenteraid.org", PasswordHash: string(password), Active: true}}
	svc := newAuthServiceForTest(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@lenteraid.org", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginInactiveAccount(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "admin@lenteraid.org", PasswordHash: string(password), Active: false}}
	svc := newAuthServiceForTest(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@lenteraid.org", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "admin@lenteraid.org", Active: true, Role: models.RoleAdmin}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newAuthServiceForTest(repo)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthRefreshRejectsExpiredToken(t *testing.T) {
	user := &models.User{ID: "u1", Active: true}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	svc := newAuthServiceForTest(repo)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthLogoutRejectsForeignToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newAuthServiceForTest(repo)

	err := svc.Logout(context.Background(), "token", "someone-else", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthChangePasswordRevokesSessions(t *testing.T) {
	oldHash, _ := bcrypt.GenerateFromPassword([]byte("oldpassword"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: string(oldHash), Active: true}}
	svc := newAuthServiceForTest(repo)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, string(oldHash), repo.userByEmail.PasswordHash)
	assert.Equal(t, "u1", repo.revokedAllFor)
}

func TestAuthValidateTokenRoundTrip(t *testing.T) {
	svc := newAuthServiceForTest(&mockAuthRepo{})
	user := &models.User{ID: "u1", Email: "admin@lenteraid.org", Role: models.RoleAdmin}

	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}
