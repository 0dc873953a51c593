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

const (
	projectColumns       = "id, name, description, status, created_at, updated_at"
	mediaColumns         = "id, project_id, kind, url, caption, created_at, updated_at"
	financeReportColumns = "id, project_id, income, expenses, balance, created_at, updated_at"
)

// ProjectRepository provides database access for projects, their media
// galleries and finance reports.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository constructs the repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindByID returns a project by identifier without its associations.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf("SELECT %s FROM projects WHERE id = $1 LIMIT 1", projectColumns)
	var project models.Project
	if err := r.db.GetContext(ctx, &project, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project by id: %w", err)
	}
	return &project, nil
}

// List returns projects matching the filter with total count.
func (r *ProjectRepository) List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error) {
	baseQuery := `FROM projects WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"created_at": true,
		"updated_at": true,
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", projectColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	return projects, total, nil
}

// Create inserts a new project row.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	const query = `INSERT INTO projects (id, name, description, status, created_at, updated_at)
VALUES (:id, :name, :description, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Update persists mutable project fields.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	const query = `UPDATE projects SET name = :name, description = :description, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// Delete removes a project and its owned rows.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete project begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("delete project media: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM finance_reports WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("delete project finance report: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// ListMedia returns a project's gallery ordered by creation time.
func (r *ProjectRepository) ListMedia(ctx context.Context, projectID string) ([]models.Media, error) {
	query := fmt.Sprintf("SELECT %s FROM media WHERE project_id = $1 ORDER BY created_at ASC", mediaColumns)
	var items []models.Media
	if err := r.db.SelectContext(ctx, &items, query, projectID); err != nil {
		return nil, fmt.Errorf("list project media: %w", err)
	}
	return items, nil
}

// FindMedia returns a gallery item scoped to its project.
func (r *ProjectRepository) FindMedia(ctx context.Context, projectID, mediaID string) (*models.Media, error) {
	query := fmt.Sprintf("SELECT %s FROM media WHERE id = $1 AND project_id = $2 LIMIT 1", mediaColumns)
	var item models.Media
	if err := r.db.GetContext(ctx, &item, query, mediaID, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project media: %w", err)
	}
	return &item, nil
}

// AddMedia inserts a gallery item.
func (r *ProjectRepository) AddMedia(ctx context.Context, media *models.Media) error {
	if media.ID == "" {
		media.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if media.CreatedAt.IsZero() {
		media.CreatedAt = now
	}
	media.UpdatedAt = now
	const query = `INSERT INTO media (id, project_id, kind, url, caption, created_at, updated_at)
VALUES (:id, :project_id, :kind, :url, :caption, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, media); err != nil {
		return fmt.Errorf("add media: %w", err)
	}
	return nil
}

// DeleteMedia removes a gallery item scoped to its project.
func (r *ProjectRepository) DeleteMedia(ctx context.Context, projectID, mediaID string) error {
	const query = `DELETE FROM media WHERE id = $1 AND project_id = $2`
	res, err := r.db.ExecContext(ctx, query, mediaID, projectID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete media rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindFinanceReport returns a project's finance report, if one exists.
func (r *ProjectRepository) FindFinanceReport(ctx context.Context, projectID string) (*models.FinanceReport, error) {
	query := fmt.Sprintf("SELECT %s FROM finance_reports WHERE project_id = $1 LIMIT 1", financeReportColumns)
	var report models.FinanceReport
	if err := r.db.GetContext(ctx, &report, query, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find finance report: %w", err)
	}
	return &report, nil
}

// SaveFinanceReport upserts a project's finance report. The balance column is
// recomputed by the caller before every save so it never drifts from
// income minus expenses.
func (r *ProjectRepository) SaveFinanceReport(ctx context.Context, report *models.FinanceReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	const query = `INSERT INTO finance_reports (id, project_id, income, expenses, balance, created_at, updated_at)
VALUES (:id, :project_id, :income, :expenses, :balance, :created_at, :updated_at)
ON CONFLICT (project_id) DO UPDATE SET income = EXCLUDED.income, expenses = EXCLUDED.expenses, balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("save finance report: %w", err)
	}
	return nil
}
