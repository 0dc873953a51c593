package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lenteraid/transparency-api/internal/models"
)

const reportJobColumns = "id, type, filters, format, status, output_location, output_key, error_message, requested_by, created_at, updated_at"

// ReportJobRepository persists report job records.
type ReportJobRepository struct {
	db *sqlx.DB
}

// NewReportJobRepository constructs the repository.
func NewReportJobRepository(db *sqlx.DB) *ReportJobRepository {
	return &ReportJobRepository{db: db}
}

// Create inserts a new report job row with generated defaults.
func (r *ReportJobRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	const query = `INSERT INTO report_jobs (id, type, filters, format, status, output_location, output_key, error_message, requested_by, created_at, updated_at)
VALUES (:id, :type, :filters, :format, :status, :output_location, :output_key, :error_message, :requested_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ReportJobRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE id = $1", reportJobColumns)
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &job, nil
}

// List returns jobs matching the filter with total count.
func (r *ReportJobRepository) List(ctx context.Context, filter models.ReportJobFilter) ([]models.ReportJob, int, error) {
	baseQuery := `FROM report_jobs WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"status":     true,
		"type":       true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", reportJobColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list report jobs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count report jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateReportJobParams defines the fields the worker contract may mutate.
type UpdateReportJobParams struct {
	Status         *models.ReportStatus
	OutputLocation *string
	OutputKey      *string
	ErrorMessage   *string
}

// UpdateFrom persists the provided changes, but only when the row is still in
// the expected status. Returns sql.ErrNoRows when the conditional update
// matched nothing, so callers can surface a transition conflict.
func (r *ReportJobRepository) UpdateFrom(ctx context.Context, id string, expected models.ReportStatus, params UpdateReportJobParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 7)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.OutputLocation != nil {
		set = append(set, fmt.Sprintf("output_location = $%d", argPos))
		args = append(args, nullableString(*params.OutputLocation))
		argPos++
	}
	if params.OutputKey != nil {
		set = append(set, fmt.Sprintf("output_key = $%d", argPos))
		args = append(args, nullableString(*params.OutputKey))
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, nullableString(*params.ErrorMessage))
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = $%d AND status = $%d", strings.Join(set, ", "), argPos, argPos+1)
	args = append(args, id, expected)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report job rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Claim atomically transitions a pending job to processing, establishing
// exclusive ownership for a worker. Returns sql.ErrNoRows when another
// worker already claimed the job or it is no longer pending.
func (r *ReportJobRepository) Claim(ctx context.Context, id string) error {
	const query = `UPDATE report_jobs SET status = 'processing', updated_at = $2 WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim report job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim report job rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetForRetry returns a job to pending, clearing error and output in the
// same statement so no intermediate state is observable. A no-op on jobs
// already pending; returns sql.ErrNoRows when the job is in any other state.
func (r *ReportJobRepository) ResetForRetry(ctx context.Context, id string) error {
	const query = `UPDATE report_jobs SET status = 'pending', error_message = NULL, output_location = NULL, output_key = NULL, updated_at = $2 WHERE id = $1 AND status IN ('pending', 'failed')`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset report job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset report job rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a job unless it is processing. Returns sql.ErrNoRows when
// nothing matched; callers resolve whether the job was missing or in flight.
func (r *ReportJobRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM report_jobs WHERE id = $1 AND status <> 'processing'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete report job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report job rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListPending fetches pending jobs oldest first (used for restart recovery).
func (r *ReportJobRepository) ListPending(ctx context.Context, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1", reportJobColumns)
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list pending report jobs: %w", err)
	}
	return jobs, nil
}

// ListCompletedBefore retrieves completed jobs prior to cutoff for cleanup.
func (r *ReportJobRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE status = 'completed' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2", reportJobColumns)
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list completed report jobs: %w", err)
	}
	return jobs, nil
}

// nullableString maps empty strings to SQL NULL so cleared fields are absent
// rather than blank.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
