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

type programRepository interface {
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
	FindByID(ctx context.Context, id string) (*models.Program, error)
	Create(ctx context.Context, program *models.Program) error
	Update(ctx context.Context, program *models.Program) error
	Delete(ctx context.Context, id string) error
}

// CreateProgramRequest represents payload for creating a program/event.
type CreateProgramRequest struct {
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	CommunityName string               `json:"community_name"`
	Location      string               `json:"location"`
	Status        models.ProgramStatus `json:"status"`
	StartDate     time.Time            `json:"start_date"`
	EndDate       *time.Time           `json:"end_date"`
	Attendees     models.AttendeeList  `json:"attendees"`
	Tutors        models.TutorList     `json:"tutors"`
}

// UpdateProgramRequest carries optional fields; at least one must be present.
type UpdateProgramRequest struct {
	Title         *string               `json:"title"`
	Description   *string               `json:"description"`
	CommunityName *string               `json:"community_name"`
	Location      *string               `json:"location"`
	Status        *models.ProgramStatus `json:"status"`
	StartDate     *time.Time            `json:"start_date"`
	EndDate       *time.Time            `json:"end_date"`
	Attendees     *models.AttendeeList  `json:"attendees"`
	Tutors        *models.TutorList     `json:"tutors"`
}

// ProgramService handles program/event workflows.
type ProgramService struct {
	repo   programRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewProgramService creates an instance of ProgramService.
func NewProgramService(repo programRepository, cache *CacheService, logger *zap.Logger) *ProgramService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{repo: repo, cache: cache, logger: logger}
}

// List returns paginated programs and pagination metadata.
func (s *ProgramService) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error) {
	programs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return programs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a program by ID.
func (s *ProgramService) Get(ctx context.Context, id string) (*models.Program, error) {
	program, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	return program, nil
}

// Create validates and persists a new program.
func (s *ProgramService) Create(ctx context.Context, req CreateProgramRequest) (*models.Program, error) {
	var fields appErrors.FieldErrors
	if req.Title == "" {
		fields.Required("title")
	}
	if req.CommunityName == "" {
		fields.Required("community_name")
	}
	if req.StartDate.IsZero() {
		fields.Required("start_date")
	}
	status := req.Status
	if status == "" {
		status = models.ProgramStatusDraft
	} else if !validProgramStatus(status) {
		fields.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if req.EndDate != nil && !req.StartDate.IsZero() && req.EndDate.Before(req.StartDate) {
		fields.Invalid("end_date", "end_date must not precede start_date")
	}
	validateAttendees(&fields, req.Attendees)
	validateTutors(&fields, req.Tutors)
	if err := fields.Err(); err != nil {
		return nil, err
	}

	program := &models.Program{
		Title:         req.Title,
		Description:   req.Description,
		CommunityName: req.CommunityName,
		Location:      req.Location,
		Status:        status,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Attendees:     req.Attendees,
		Tutors:        req.Tutors,
	}
	if program.Attendees == nil {
		program.Attendees = models.AttendeeList{}
	}
	if program.Tutors == nil {
		program.Tutors = models.TutorList{}
	}

	if err := s.repo.Create(ctx, program); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create program")
	}
	s.invalidatePublicCache(ctx)
	return program, nil
}

// Update applies the provided fields to an existing program.
func (s *ProgramService) Update(ctx context.Context, id string, req UpdateProgramRequest) (*models.Program, error) {
	var fields appErrors.FieldErrors
	if emptyProgramUpdate(req) {
		fields.Add("", appErrors.ReasonEmpty, "update requires at least one field")
		return nil, fields.Err()
	}
	if req.Title != nil && *req.Title == "" {
		fields.Required("title")
	}
	if req.CommunityName != nil && *req.CommunityName == "" {
		fields.Required("community_name")
	}
	if req.Status != nil && !validProgramStatus(*req.Status) {
		fields.Invalid("status", fmt.Sprintf("unknown status %q", *req.Status))
	}
	if req.Attendees != nil {
		validateAttendees(&fields, *req.Attendees)
	}
	if req.Tutors != nil {
		validateTutors(&fields, *req.Tutors)
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	program, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		program.Title = *req.Title
	}
	if req.Description != nil {
		program.Description = *req.Description
	}
	if req.CommunityName != nil {
		program.CommunityName = *req.CommunityName
	}
	if req.Location != nil {
		program.Location = *req.Location
	}
	if req.Status != nil {
		program.Status = *req.Status
	}
	if req.StartDate != nil {
		program.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		program.EndDate = req.EndDate
	}
	if req.Attendees != nil {
		program.Attendees = *req.Attendees
	}
	if req.Tutors != nil {
		program.Tutors = *req.Tutors
	}
	if program.EndDate != nil && program.EndDate.Before(program.StartDate) {
		var f appErrors.FieldErrors
		f.Invalid("end_date", "end_date must not precede start_date")
		return nil, f.Err()
	}

	if err := s.repo.Update(ctx, program); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update program")
	}
	s.invalidatePublicCache(ctx)
	return program, nil
}

// Delete removes a program.
func (s *ProgramService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete program")
	}
	s.invalidatePublicCache(ctx)
	return nil
}

func (s *ProgramService) invalidatePublicCache(ctx context.Context) {
	if err := s.cache.InvalidatePublic(ctx); err != nil {
		s.logger.Warn("failed to invalidate public cache", zap.Error(err))
	}
}

func validProgramStatus(status models.ProgramStatus) bool {
	switch status {
	case models.ProgramStatusDraft, models.ProgramStatusPublished, models.ProgramStatusArchived:
		return true
	default:
		return false
	}
}

// validateAttendees resolves each entry's discriminator first, then checks
// only that variant's fields: members reference a user and carry no name,
// guests carry a name and no user.
func validateAttendees(fields *appErrors.FieldErrors, attendees models.AttendeeList) {
	for i, a := range attendees {
		prefix := fmt.Sprintf("attendees[%d]", i)
		switch a.Type {
		case models.AttendeeMember:
			if a.UserID == nil || *a.UserID == "" {
				fields.Required(prefix + ".user_id")
			}
			if a.Name != nil {
				fields.Forbidden(prefix+".name", "for member attendees")
			}
		case models.AttendeeGuest:
			if a.Name == nil || *a.Name == "" {
				fields.Required(prefix + ".name")
			}
			if a.UserID != nil {
				fields.Forbidden(prefix+".user_id", "for guest attendees")
			}
		default:
			fields.Invalid(prefix+".type", fmt.Sprintf("unknown attendee type %q", a.Type))
		}
	}
}

// validateTutors mirrors attendee validation: internal tutors reference a
// user (name optional), external tutors require a name and no user.
func validateTutors(fields *appErrors.FieldErrors, tutors models.TutorList) {
	for i, t := range tutors {
		prefix := fmt.Sprintf("tutors[%d]", i)
		switch t.Type {
		case models.TutorInternal:
			if t.UserID == nil || *t.UserID == "" {
				fields.Required(prefix + ".user_id")
			}
		case models.TutorExternal:
			if t.Name == nil || *t.Name == "" {
				fields.Required(prefix + ".name")
			}
			if t.UserID != nil {
				fields.Forbidden(prefix+".user_id", "for external tutors")
			}
		default:
			fields.Invalid(prefix+".type", fmt.Sprintf("unknown tutor type %q", t.Type))
		}
	}
}

func emptyProgramUpdate(req UpdateProgramRequest) bool {
	return req.Title == nil && req.Description == nil && req.CommunityName == nil &&
		req.Location == nil && req.Status == nil && req.StartDate == nil &&
		req.EndDate == nil && req.Attendees == nil && req.Tutors == nil
}
