package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/middleware"
	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/service"
)

type stubProgramRepo struct {
	programs map[string]*models.Program
}

func newStubProgramRepo(seed ...*models.Program) *stubProgramRepo {
	s := &stubProgramRepo{programs: make(map[string]*models.Program)}
	for _, p := range seed {
		s.programs[p.ID] = p
	}
	return s
}

func (s *stubProgramRepo) List(_ context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	out := make([]models.Program, 0, len(s.programs))
	for _, p := range s.programs {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (s *stubProgramRepo) FindByID(_ context.Context, id string) (*models.Program, error) {
	p, ok := s.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (s *stubProgramRepo) Create(_ context.Context, program *models.Program) error {
	clone := *program
	s.programs[program.ID] = &clone
	return nil
}

func (s *stubProgramRepo) Update(_ context.Context, program *models.Program) error {
	clone := *program
	s.programs[program.ID] = &clone
	return nil
}

func (s *stubProgramRepo) Delete(_ context.Context, id string) error {
	delete(s.programs, id)
	return nil
}

func newPublicHandlerForTest(repo *stubProgramRepo) *PublicHandler {
	programs := service.NewProgramService(repo, nil, zap.NewNop())
	return NewPublicHandler(programs, nil)
}

func seedPrograms() *stubProgramRepo {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	return newStubProgramRepo(
		&models.Program{ID: "prog-1", Title: "Literacy Workshop", CommunityName: "Kampung Melati", Status: models.ProgramStatusPublished, StartDate: start},
		&models.Program{ID: "prog-2", Title: "Unannounced Fundraiser", CommunityName: "Kampung Melati", Status: models.ProgramStatusDraft, StartDate: start},
	)
}

func TestPublicListFiltersToPublished(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newPublicHandlerForTest(seedPrograms())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/public/programs", nil)

	h.ListPrograms(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "prog-1", body.Data[0]["id"])
}

func TestPublicGetHidesDraftFromAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newPublicHandlerForTest(seedPrograms())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/public/programs/prog-2", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-2"}}

	h.GetProgram(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicGetShowsDraftToStaff(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newPublicHandlerForTest(seedPrograms())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/public/programs/prog-2", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-2"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleStaff})

	h.GetProgram(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicGetIgnoresMemberClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newPublicHandlerForTest(seedPrograms())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/public/programs/prog-2", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-2"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u2", Role: models.RoleMember})

	h.GetProgram(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicGetPublishedProgram(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newPublicHandlerForTest(seedPrograms())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/public/programs/prog-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "prog-1"}}

	h.GetProgram(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Literacy Workshop", body.Data["title"])
}
