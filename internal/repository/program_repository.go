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

const programColumns = "id, title, description, community_name, location, status, start_date, end_date, attendees, tutors, created_at, updated_at"

// ProgramRepository provides database access for programs/events.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// FindByID returns a program by identifier.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	query := fmt.Sprintf("SELECT %s FROM programs WHERE id = $1 LIMIT 1", programColumns)
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find program by id: %w", err)
	}
	return &program, nil
}

// List returns programs matching the filter with total count.
func (r *ProgramRepository) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	baseQuery := `FROM programs WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.CommunityName != "" {
		conditions = append(conditions, fmt.Sprintf("community_name = $%d", len(args)+1))
		args = append(args, filter.CommunityName)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"title":      true,
		"start_date": true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", programColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}

	return programs, total, nil
}

// ListByCommunityBetween returns programs for a community overlapping the
// date range, used by report generation.
func (r *ProgramRepository) ListByCommunityBetween(ctx context.Context, community string, from, to time.Time) ([]models.Program, error) {
	query := fmt.Sprintf("SELECT %s FROM programs WHERE community_name = $1 AND start_date >= $2 AND start_date <= $3 ORDER BY start_date ASC", programColumns)
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, community, from, to); err != nil {
		return nil, fmt.Errorf("list community programs: %w", err)
	}
	return programs, nil
}

// ListByCommunity returns every program for a community.
func (r *ProgramRepository) ListByCommunity(ctx context.Context, community string) ([]models.Program, error) {
	query := fmt.Sprintf("SELECT %s FROM programs WHERE community_name = $1 ORDER BY start_date ASC", programColumns)
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, community); err != nil {
		return nil, fmt.Errorf("list community programs: %w", err)
	}
	return programs, nil
}

// Create inserts a new program row.
func (r *ProgramRepository) Create(ctx context.Context, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if program.CreatedAt.IsZero() {
		program.CreatedAt = now
	}
	program.UpdatedAt = now
	const query = `INSERT INTO programs (id, title, description, community_name, location, status, start_date, end_date, attendees, tutors, created_at, updated_at)
VALUES (:id, :title, :description, :community_name, :location, :status, :start_date, :end_date, :attendees, :tutors, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

// Update persists mutable program fields.
func (r *ProgramRepository) Update(ctx context.Context, program *models.Program) error {
	program.UpdatedAt = time.Now().UTC()
	const query = `UPDATE programs SET title = :title, description = :description, community_name = :community_name, location = :location, status = :status, start_date = :start_date, end_date = :end_date, attendees = :attendees, tutors = :tutors, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	return nil
}

// Delete removes a program row.
func (r *ProgramRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM programs WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete program rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
