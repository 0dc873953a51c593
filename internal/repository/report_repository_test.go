package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenteraid/transparency-api/internal/models"
)

func newReportJobMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func reportJobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "type", "filters", "format", "status", "output_location", "output_key", "error_message", "requested_by", "created_at", "updated_at"}).
		AddRow("job-1", "financial_summary", []byte(`{"start_date":"2026-01-01","end_date":"2026-01-31"}`), "csv", "pending", nil, nil, nil, "user-1", time.Now(), time.Now())
}

func TestReportJobRepositoryCreateAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec("INSERT INTO report_jobs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type:        models.ReportTypeFinancialSummary,
		Format:      models.ReportFormatCSV,
		RequestedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ReportStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, filters, format, status, output_location, output_key, error_message, requested_by, created_at, updated_at FROM report_jobs WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(reportJobRows())

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportTypeFinancialSummary, job.Type)
	assert.Equal(t, "2026-01-01", job.Filters[models.FilterStartDate])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectQuery("SELECT .* FROM report_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportJobRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE 1=1 AND status = $1 AND type = $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(models.ReportStatusFailed, models.ReportTypeFinancialSummary).
		WillReturnRows(reportJobRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM report_jobs WHERE 1=1 AND status = $1 AND type = $2")).
		WithArgs(models.ReportStatusFailed, models.ReportTypeFinancialSummary).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status := models.ReportStatusFailed
	reportType := models.ReportTypeFinancialSummary
	jobs, total, err := repo.List(context.Background(), models.ReportJobFilter{Status: &status, Type: &reportType})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryClaim(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = 'processing', updated_at = $2 WHERE id = $1 AND status = 'pending'")).
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Claim(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryClaimLostRace(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec("UPDATE report_jobs SET status = 'processing'").
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Claim(context.Background(), "job-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportJobRepositoryResetForRetry(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = 'pending', error_message = NULL, output_location = NULL, output_key = NULL, updated_at = $2 WHERE id = $1 AND status IN ('pending', 'failed')")).
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ResetForRetry(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryResetForRetryRejectsOtherStates(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec("UPDATE report_jobs SET status = 'pending'").
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ResetForRetry(context.Background(), "job-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportJobRepositoryUpdateFromConditional(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1, output_location = $2, output_key = $3, error_message = $4, updated_at = $5 WHERE id = $6 AND status = $7")).
		WithArgs(models.ReportStatusCompleted, "/api/v1/reports/download/tok", "reports/out.csv", nil, sqlmock.AnyArg(), "job-1", models.ReportStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	completed := models.ReportStatusCompleted
	location := "/api/v1/reports/download/tok"
	key := "reports/out.csv"
	clear := ""
	err := repo.UpdateFrom(context.Background(), "job-1", models.ReportStatusProcessing, UpdateReportJobParams{
		Status:         &completed,
		OutputLocation: &location,
		OutputKey:      &key,
		ErrorMessage:   &clear,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryUpdateFromStaleStatus(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec("UPDATE report_jobs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	failed := models.ReportStatusFailed
	message := "boom"
	err := repo.UpdateFrom(context.Background(), "job-1", models.ReportStatusProcessing, UpdateReportJobParams{
		Status:       &failed,
		ErrorMessage: &message,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportJobRepositoryDeleteSkipsProcessing(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM report_jobs WHERE id = $1 AND status <> 'processing'")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "job-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReportJobRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newReportJobMock(t)
	defer cleanup()
	repo := NewReportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(reportJobRows())

	jobs, err := repo.ListPending(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
