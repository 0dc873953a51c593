package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/middleware"
	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/repository"
	"github.com/lenteraid/transparency-api/internal/service"
	"github.com/lenteraid/transparency-api/pkg/jobs"
	"github.com/lenteraid/transparency-api/pkg/storage"
)

type stubJobStore struct {
	jobs map[string]*models.ReportJob
	seq  int
}

func newStubJobStore(seed ...*models.ReportJob) *stubJobStore {
	s := &stubJobStore{jobs: make(map[string]*models.ReportJob)}
	for _, job := range seed {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *stubJobStore) Create(_ context.Context, job *models.ReportJob) error {
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *stubJobStore) GetByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (s *stubJobStore) List(_ context.Context, _ models.ReportJobFilter) ([]models.ReportJob, int, error) {
	out := make([]models.ReportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out, len(out), nil
}

func (s *stubJobStore) UpdateFrom(_ context.Context, id string, expected models.ReportStatus, params repository.UpdateReportJobParams) error {
	job, ok := s.jobs[id]
	if !ok || job.Status != expected {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	return nil
}

func (s *stubJobStore) Claim(_ context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok || job.Status != models.ReportStatusPending {
		return sql.ErrNoRows
	}
	job.Status = models.ReportStatusProcessing
	return nil
}

func (s *stubJobStore) ResetForRetry(_ context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok || (job.Status != models.ReportStatusPending && job.Status != models.ReportStatusFailed) {
		return sql.ErrNoRows
	}
	job.Status = models.ReportStatusPending
	job.ErrorMessage = nil
	return nil
}

func (s *stubJobStore) Delete(_ context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok || job.Status == models.ReportStatusProcessing {
		return sql.ErrNoRows
	}
	delete(s.jobs, id)
	return nil
}

func (s *stubJobStore) ListPending(_ context.Context, _ int) ([]models.ReportJob, error) {
	return nil, nil
}

func (s *stubJobStore) ListCompletedBefore(_ context.Context, _ time.Time, _ int) ([]models.ReportJob, error) {
	return nil, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, jobs.Message) error { return nil }
func (noopPublisher) Running() bool                               { return true }

type noopFiles struct{}

func (noopFiles) Save(filename string, _ []byte) (string, error) { return filename, nil }
func (noopFiles) Open(string) (*os.File, error)                  { return nil, os.ErrNotExist }
func (noopFiles) Delete(string) error                            { return nil }
func (noopFiles) CleanupOlderThan(time.Duration) ([]string, error) {
	return nil, nil
}

func newReportHandlerForTest(store *stubJobStore) *ReportHandler {
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	exporter := service.NewExportService(nil, nil, nil, noopFiles{}, signer, service.ExportConfig{APIPrefix: "/api/v1"}, zap.NewNop(), nil, nil)
	svc := service.NewReportService(store, noopPublisher{}, exporter, zap.NewNop(), service.ReportServiceConfig{})
	return NewReportHandler(svc)
}

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
}

func TestReportHandlerCreateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/reports", bytes.NewBufferString(`{}`))

	h.Create(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReportHandlerCreateAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	body := `{"type":"financial_summary","format":"csv","filters":{"start_date":"2026-01-01","end_date":"2026-01-31"}}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/reports", bytes.NewBufferString(body))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin})

	h.Create(c)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Data["status"])
}

func TestReportHandlerCreateValidationFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	body := `{"type":"financial_summary","format":"csv","filters":{}}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/reports", bytes.NewBufferString(body))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin})

	h.Create(c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Error["code"])
}

func TestReportHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHandlerListRejectsUnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports?status=done", nil)

	h.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandlerEnqueueConflictOnCompleted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore(&models.ReportJob{ID: "job-1", Status: models.ReportStatusCompleted}))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/reports/job-1/enqueue", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	h.Enqueue(c)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_TRANSITION", resp.Error["code"])
}

func TestReportHandlerEnqueueRetriesFailedJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	msg := "boom"
	h := newReportHandlerForTest(newStubJobStore(&models.ReportJob{ID: "job-1", Status: models.ReportStatusFailed, ErrorMessage: &msg}))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/reports/job-1/enqueue", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	h.Enqueue(c)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Data["status"])
	assert.Nil(t, resp.Data["error_message"])
}

func TestReportHandlerDeleteProcessingConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore(&models.ReportJob{ID: "job-1", Status: models.ReportStatusProcessing}))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	h.Delete(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReportHandlerDeleteSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore(&models.ReportJob{ID: "job-1", Status: models.ReportStatusCompleted}))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	h.Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReportHandlerWorkerUpdateForbidsOutputWhileProcessing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore(&models.ReportJob{ID: "job-1", Status: models.ReportStatusPending}))

	body := `{"status":"processing","output_location":"early"}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPatch, "/reports/job-1/status", bytes.NewBufferString(body))
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	h.WorkerUpdate(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandlerDownloadRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newReportHandlerForTest(newStubJobStore())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/reports/download/garbage", nil)
	c.Params = gin.Params{{Key: "token", Value: "garbage"}}

	h.Download(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
