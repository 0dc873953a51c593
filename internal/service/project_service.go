package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type projectRepository interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error)
	FindByID(ctx context.Context, id string) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) error
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id string) error
	ListMedia(ctx context.Context, projectID string) ([]models.Media, error)
	FindMedia(ctx context.Context, projectID, mediaID string) (*models.Media, error)
	AddMedia(ctx context.Context, media *models.Media) error
	DeleteMedia(ctx context.Context, projectID, mediaID string) error
	FindFinanceReport(ctx context.Context, projectID string) (*models.FinanceReport, error)
	SaveFinanceReport(ctx context.Context, report *models.FinanceReport) error
}

// CreateProjectRequest represents payload for creating a project.
type CreateProjectRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Status      models.ProjectStatus `json:"status"`
}

// UpdateProjectRequest carries optional fields; at least one must be present.
type UpdateProjectRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Status      *models.ProjectStatus `json:"status"`
}

// AddMediaRequest represents payload for adding a gallery item.
type AddMediaRequest struct {
	Kind    models.MediaKind `json:"kind"`
	URL     string           `json:"url"`
	Caption string           `json:"caption"`
}

// SaveFinanceReportRequest sets a project's income and expense figures. The
// balance is never accepted from the caller; it is recomputed on every save.
type SaveFinanceReportRequest struct {
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
}

// ProjectService handles project, gallery and finance report workflows.
type ProjectService struct {
	repo   projectRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewProjectService creates an instance of ProjectService.
func NewProjectService(repo projectRepository, cache *CacheService, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectService{repo: repo, cache: cache, logger: logger}
}

// List returns paginated projects and pagination metadata.
func (s *ProjectService) List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, *models.Pagination, error) {
	projects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return projects, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a project with its gallery and finance report attached.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	gallery, err := s.repo.ListMedia(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project gallery")
	}
	project.Gallery = gallery

	report, err := s.repo.FindFinanceReport(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load finance report")
	}
	project.FinanceReport = report

	return project, nil
}

// Create validates and persists a new project.
func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest) (*models.Project, error) {
	var fields appErrors.FieldErrors
	if req.Name == "" {
		fields.Required("name")
	}
	status := req.Status
	if status == "" {
		status = models.ProjectStatusPlanned
	} else if !validProjectStatus(status) {
		fields.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
		Status:      status,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}
	s.invalidatePublicCache(ctx)
	return project, nil
}

// Update applies the provided fields to an existing project.
func (s *ProjectService) Update(ctx context.Context, id string, req UpdateProjectRequest) (*models.Project, error) {
	var fields appErrors.FieldErrors
	if req.Name == nil && req.Description == nil && req.Status == nil {
		fields.Add("", appErrors.ReasonEmpty, "update requires at least one field")
		return nil, fields.Err()
	}
	if req.Name != nil && *req.Name == "" {
		fields.Required("name")
	}
	if req.Status != nil && !validProjectStatus(*req.Status) {
		fields.Invalid("status", fmt.Sprintf("unknown status %q", *req.Status))
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	project, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Status != nil {
		project.Status = *req.Status
	}

	if err := s.repo.Update(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update project")
	}
	s.invalidatePublicCache(ctx)
	return project, nil
}

// Delete removes a project with its gallery and finance report.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete project")
	}
	s.invalidatePublicCache(ctx)
	return nil
}

// AddMedia validates and attaches a gallery item to a project.
func (s *ProjectService) AddMedia(ctx context.Context, projectID string, req AddMediaRequest) (*models.Media, error) {
	var fields appErrors.FieldErrors
	if !validMediaKind(req.Kind) {
		fields.Invalid("kind", fmt.Sprintf("unknown media kind %q", req.Kind))
	}
	if req.URL == "" {
		fields.Required("url")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByID(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	media := &models.Media{
		ProjectID: projectID,
		Kind:      req.Kind,
		URL:       req.URL,
		Caption:   req.Caption,
	}
	if err := s.repo.AddMedia(ctx, media); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add media")
	}
	s.invalidatePublicCache(ctx)
	return media, nil
}

// DeleteMedia removes a gallery item from a project.
func (s *ProjectService) DeleteMedia(ctx context.Context, projectID, mediaID string) error {
	if err := s.repo.DeleteMedia(ctx, projectID, mediaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "media not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete media")
	}
	s.invalidatePublicCache(ctx)
	return nil
}

// SaveFinanceReport upserts a project's finance report. The balance invariant
// (balance = income - expenses) is enforced here on every save.
func (s *ProjectService) SaveFinanceReport(ctx context.Context, projectID string, req SaveFinanceReportRequest) (*models.FinanceReport, error) {
	var fields appErrors.FieldErrors
	if req.Income < 0 {
		fields.Invalid("income", "income must not be negative")
	}
	if req.Expenses < 0 {
		fields.Invalid("expenses", "expenses must not be negative")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByID(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	report, err := s.repo.FindFinanceReport(ctx, projectID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load finance report")
		}
		report = &models.FinanceReport{ProjectID: projectID}
	}

	report.Income = req.Income
	report.Expenses = req.Expenses
	report.Recompute()

	if err := s.repo.SaveFinanceReport(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save finance report")
	}
	s.invalidatePublicCache(ctx)
	return report, nil
}

func (s *ProjectService) invalidatePublicCache(ctx context.Context) {
	if err := s.cache.InvalidatePublic(ctx); err != nil {
		s.logger.Warn("failed to invalidate public cache", zap.Error(err))
	}
}

func validProjectStatus(status models.ProjectStatus) bool {
	switch status {
	case models.ProjectStatusPlanned, models.ProjectStatusOngoing, models.ProjectStatusCompleted:
		return true
	default:
		return false
	}
}

func validMediaKind(kind models.MediaKind) bool {
	switch kind {
	case models.MediaImage, models.MediaVideo, models.MediaDocument:
		return true
	default:
		return false
	}
}
