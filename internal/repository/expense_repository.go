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

const expenseColumns = "id, category, description, amount, program_id, community_name, spent_at, created_at, updated_at"

// ExpenseRepository provides database access for expenses.
type ExpenseRepository struct {
	db *sqlx.DB
}

// NewExpenseRepository constructs the repository.
func NewExpenseRepository(db *sqlx.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// FindByID returns an expense by identifier.
func (r *ExpenseRepository) FindByID(ctx context.Context, id string) (*models.Expense, error) {
	query := fmt.Sprintf("SELECT %s FROM expenses WHERE id = $1 LIMIT 1", expenseColumns)
	var expense models.Expense
	if err := r.db.GetContext(ctx, &expense, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find expense by id: %w", err)
	}
	return &expense, nil
}

// List returns expenses matching the filter with total count.
func (r *ExpenseRepository) List(ctx context.Context, filter models.ExpenseFilter) ([]models.Expense, int, error) {
	baseQuery := `FROM expenses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, *filter.Category)
	}
	if filter.CommunityName != "" {
		conditions = append(conditions, fmt.Sprintf("community_name = $%d", len(args)+1))
		args = append(args, filter.CommunityName)
	}
	if filter.ProgramID != nil {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, *filter.ProgramID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("spent_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("spent_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"spent_at":   true,
		"amount":     true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "spent_at"
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
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", expenseColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var expenses []models.Expense
	if err := r.db.SelectContext(ctx, &expenses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list expenses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count expenses: %w", err)
	}

	return expenses, total, nil
}

// TotalBetween sums expense amounts in the period.
func (r *ExpenseRepository) TotalBetween(ctx context.Context, from, to time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE spent_at >= $1 AND spent_at <= $2`
	var total float64
	if err := r.db.GetContext(ctx, &total, query, from, to); err != nil {
		return 0, fmt.Errorf("total expenses: %w", err)
	}
	return total, nil
}

// Create inserts a new expense row.
func (r *ExpenseRepository) Create(ctx context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}
	expense.UpdatedAt = now
	const query = `INSERT INTO expenses (id, category, description, amount, program_id, community_name, spent_at, created_at, updated_at)
VALUES (:id, :category, :description, :amount, :program_id, :community_name, :spent_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, expense); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

// Update persists mutable expense fields.
func (r *ExpenseRepository) Update(ctx context.Context, expense *models.Expense) error {
	expense.UpdatedAt = time.Now().UTC()
	const query = `UPDATE expenses SET category = :category, description = :description, amount = :amount, program_id = :program_id, community_name = :community_name, spent_at = :spent_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, expense); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return nil
}

// Delete removes an expense row.
func (r *ExpenseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM expenses WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expense rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
