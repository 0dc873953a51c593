package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/repository"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[string]*models.User
	auditLogs []*models.AuditLog
	deleted   []string
}

func newMockUserRepo(seed ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User)}
	for _, u := range seed {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) List(_ context.Context, _ models.UserFilter) ([]models.User, int, error) {
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *mockUserRepo) Create(_ context.Context, user *models.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepo) Update(_ context.Context, user *models.User) error {
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	m.deleted = append(m.deleted, id)
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func TestUserCreateHashesPasswordAndAudits(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Staff@LenteraID.org",
		FullName: "Siti Rahma",
		Role:     models.RoleStaff,
		Active:   true,
		Password: "password123",
	}, "admin-1", models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, "staff@lenteraid.org", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password123")))
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	assert.Equal(t, "10.0.0.1", repo.auditLogs[0].IPAddress)
}

func TestUserCreateRejectsDuplicateEmail(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Email: "staff@lenteraid.org"})
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "staff@lenteraid.org",
		FullName: "Siti Rahma",
		Role:     models.RoleStaff,
		Password: "password123",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "staff@lenteraid.org",
		FullName: "Siti Rahma",
		Role:     "INTERN",
		Password: "password123",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserUpdateTogglesActive(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Email: "staff@lenteraid.org", FullName: "Siti Rahma", Role: models.RoleStaff, Active: true})
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	inactive := false
	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		FullName: "Siti Rahma",
		Role:     models.RoleMember,
		Active:   &inactive,
	}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, user.Role)
	assert.False(t, user.Active)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserUpdate, repo.auditLogs[0].Action)
}

func TestUserDeleteAudits(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Email: "staff@lenteraid.org", Active: true})
	svc := NewUserService(repo, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "u1", "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, repo.deleted)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.auditLogs[0].Action)
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
