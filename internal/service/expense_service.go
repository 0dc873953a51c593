package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type expenseRepository interface {
	List(ctx context.Context, filter models.ExpenseFilter) ([]models.Expense, int, error)
	FindByID(ctx context.Context, id string) (*models.Expense, error)
	Create(ctx context.Context, expense *models.Expense) error
	Update(ctx context.Context, expense *models.Expense) error
	Delete(ctx context.Context, id string) error
}

// CreateExpenseRequest represents payload for recording an expense.
type CreateExpenseRequest struct {
	Category      models.ExpenseCategory `json:"category"`
	Description   string                 `json:"description"`
	Amount        float64                `json:"amount"`
	ProgramID     *string                `json:"program_id"`
	CommunityName string                 `json:"community_name"`
	SpentAt       time.Time              `json:"spent_at"`
}

// UpdateExpenseRequest carries optional fields; at least one must be present.
type UpdateExpenseRequest struct {
	Category      *models.ExpenseCategory `json:"category"`
	Description   *string                 `json:"description"`
	Amount        *float64                `json:"amount"`
	ProgramID     *string                 `json:"program_id"`
	CommunityName *string                 `json:"community_name"`
	SpentAt       *time.Time              `json:"spent_at"`
}

// ExpenseService handles expense workflows.
type ExpenseService struct {
	repo   expenseRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewExpenseService creates an instance of ExpenseService.
func NewExpenseService(repo expenseRepository, cache *CacheService, logger *zap.Logger) *ExpenseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpenseService{repo: repo, cache: cache, logger: logger}
}

// List returns paginated expenses and pagination metadata.
func (s *ExpenseService) List(ctx context.Context, filter models.ExpenseFilter) ([]models.Expense, *models.Pagination, error) {
	expenses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expenses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return expenses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns an expense by ID.
func (s *ExpenseService) Get(ctx context.Context, id string) (*models.Expense, error) {
	expense, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "expense not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load expense")
	}
	return expense, nil
}

// Create validates and persists a new expense.
func (s *ExpenseService) Create(ctx context.Context, req CreateExpenseRequest) (*models.Expense, error) {
	var fields appErrors.FieldErrors
	if req.Category == "" {
		fields.Required("category")
	} else if !validExpenseCategory(req.Category) {
		fields.Invalid("category", fmt.Sprintf("unknown category %q", req.Category))
	}
	if req.Description == "" {
		fields.Required("description")
	}
	if req.Amount <= 0 {
		fields.Invalid("amount", "amount must be positive")
	}
	if req.CommunityName == "" {
		fields.Required("community_name")
	}
	if req.SpentAt.IsZero() {
		fields.Required("spent_at")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	expense := &models.Expense{
		Category:      req.Category,
		Description:   req.Description,
		Amount:        req.Amount,
		ProgramID:     req.ProgramID,
		CommunityName: req.CommunityName,
		SpentAt:       req.SpentAt,
	}
	if err := s.repo.Create(ctx, expense); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create expense")
	}
	s.invalidatePublicCache(ctx)
	return expense, nil
}

// Update applies the provided fields to an existing expense.
func (s *ExpenseService) Update(ctx context.Context, id string, req UpdateExpenseRequest) (*models.Expense, error) {
	var fields appErrors.FieldErrors
	if emptyExpenseUpdate(req) {
		fields.Add("", appErrors.ReasonEmpty, "update requires at least one field")
		return nil, fields.Err()
	}
	if req.Category != nil && !validExpenseCategory(*req.Category) {
		fields.Invalid("category", fmt.Sprintf("unknown category %q", *req.Category))
	}
	if req.Description != nil && *req.Description == "" {
		fields.Required("description")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		fields.Invalid("amount", "amount must be positive")
	}
	if req.CommunityName != nil && *req.CommunityName == "" {
		fields.Required("community_name")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	expense, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Category != nil {
		expense.Category = *req.Category
	}
	if req.Description != nil {
		expense.Description = *req.Description
	}
	if req.Amount != nil {
		expense.Amount = *req.Amount
	}
	if req.ProgramID != nil {
		expense.ProgramID = req.ProgramID
	}
	if req.CommunityName != nil {
		expense.CommunityName = *req.CommunityName
	}
	if req.SpentAt != nil {
		expense.SpentAt = *req.SpentAt
	}

	if err := s.repo.Update(ctx, expense); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update expense")
	}
	s.invalidatePublicCache(ctx)
	return expense, nil
}

// Delete removes an expense.
func (s *ExpenseService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "expense not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete expense")
	}
	s.invalidatePublicCache(ctx)
	return nil
}

func (s *ExpenseService) invalidatePublicCache(ctx context.Context) {
	if err := s.cache.InvalidatePublic(ctx); err != nil {
		s.logger.Warn("failed to invalidate public cache", zap.Error(err))
	}
}

func validExpenseCategory(category models.ExpenseCategory) bool {
	switch category {
	case models.ExpenseProgram, models.ExpenseOperational, models.ExpenseFundraising:
		return true
	default:
		return false
	}
}

func emptyExpenseUpdate(req UpdateExpenseRequest) bool {
	return req.Category == nil && req.Description == nil && req.Amount == nil &&
		req.ProgramID == nil && req.CommunityName == nil && req.SpentAt == nil
}
