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

type donationRepository interface {
	List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, int, error)
	FindByID(ctx context.Context, id string) (*models.Donation, error)
	Create(ctx context.Context, donation *models.Donation) error
	Update(ctx context.Context, donation *models.Donation) error
	Delete(ctx context.Context, id string) error
}

// CreateDonationRequest represents payload for recording a donation. The
// details payloads are mutually exclusive: exactly the one matching
// donation_type must be present.
type CreateDonationRequest struct {
	DonorName     string                `json:"donor_name"`
	DonationType  models.DonationType   `json:"donation_type"`
	CashDetails   *models.CashDetails   `json:"cash_details"`
	InKindDetails *models.InKindDetails `json:"in_kind_details"`
	ProgramID     *string               `json:"program_id"`
	CommunityName string                `json:"community_name"`
	Note          string                `json:"note"`
	ReceivedAt    time.Time             `json:"received_at"`
}

// UpdateDonationRequest carries optional fields; at least one must be present.
// Changing the donation type requires the matching details payload.
type UpdateDonationRequest struct {
	DonorName     *string               `json:"donor_name"`
	DonationType  *models.DonationType  `json:"donation_type"`
	CashDetails   *models.CashDetails   `json:"cash_details"`
	InKindDetails *models.InKindDetails `json:"in_kind_details"`
	ProgramID     *string               `json:"program_id"`
	CommunityName *string               `json:"community_name"`
	Note          *string               `json:"note"`
	ReceivedAt    *time.Time            `json:"received_at"`
}

// DonationService handles donation workflows.
type DonationService struct {
	repo   donationRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewDonationService creates an instance of DonationService.
func NewDonationService(repo donationRepository, cache *CacheService, logger *zap.Logger) *DonationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DonationService{repo: repo, cache: cache, logger: logger}
}

// List returns paginated donations and pagination metadata.
func (s *DonationService) List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, *models.Pagination, error) {
	donations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list donations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return donations, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a donation by ID.
func (s *DonationService) Get(ctx context.Context, id string) (*models.Donation, error) {
	donation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "donation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load donation")
	}
	return donation, nil
}

// Create validates and persists a new donation.
func (s *DonationService) Create(ctx context.Context, req CreateDonationRequest) (*models.Donation, error) {
	var fields appErrors.FieldErrors
	if req.DonorName == "" {
		fields.Required("donor_name")
	}
	if req.CommunityName == "" {
		fields.Required("community_name")
	}
	if req.ReceivedAt.IsZero() {
		fields.Required("received_at")
	}
	validateDonationPayload(&fields, req.DonationType, req.CashDetails, req.InKindDetails)
	if err := fields.Err(); err != nil {
		return nil, err
	}

	donation := &models.Donation{
		DonorName:     req.DonorName,
		DonationType:  req.DonationType,
		ProgramID:     req.ProgramID,
		CommunityName: req.CommunityName,
		Note:          req.Note,
		ReceivedAt:    req.ReceivedAt,
	}
	applyDonationDetails(donation, req.CashDetails, req.InKindDetails)

	if err := s.repo.Create(ctx, donation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create donation")
	}
	s.invalidatePublicCache(ctx)
	return donation, nil
}

// Update applies the provided fields to an existing donation.
func (s *DonationService) Update(ctx context.Context, id string, req UpdateDonationRequest) (*models.Donation, error) {
	if emptyDonationUpdate(req) {
		var fields appErrors.FieldErrors
		fields.Add("", appErrors.ReasonEmpty, "update requires at least one field")
		return nil, fields.Err()
	}

	donation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	donationType := donation.DonationType
	if req.DonationType != nil {
		donationType = *req.DonationType
	}
	cash := req.CashDetails
	inKind := req.InKindDetails
	if cash == nil && donation.CashDetails != nil && req.DonationType == nil {
		cash = (*models.CashDetails)(donation.CashDetails)
	}
	if inKind == nil && donation.InKindDetails != nil && req.DonationType == nil {
		inKind = (*models.InKindDetails)(donation.InKindDetails)
	}

	var fields appErrors.FieldErrors
	if req.DonorName != nil && *req.DonorName == "" {
		fields.Required("donor_name")
	}
	if req.CommunityName != nil && *req.CommunityName == "" {
		fields.Required("community_name")
	}
	validateDonationPayload(&fields, donationType, cash, inKind)
	if err := fields.Err(); err != nil {
		return nil, err
	}

	if req.DonorName != nil {
		donation.DonorName = *req.DonorName
	}
	if req.CommunityName != nil {
		donation.CommunityName = *req.CommunityName
	}
	if req.Note != nil {
		donation.Note = *req.Note
	}
	if req.ProgramID != nil {
		donation.ProgramID = req.ProgramID
	}
	if req.ReceivedAt != nil {
		donation.ReceivedAt = *req.ReceivedAt
	}
	donation.DonationType = donationType
	donation.CashDetails = nil
	donation.InKindDetails = nil
	applyDonationDetails(donation, cash, inKind)

	if err := s.repo.Update(ctx, donation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update donation")
	}
	s.invalidatePublicCache(ctx)
	return donation, nil
}

// Delete removes a donation.
func (s *DonationService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "donation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete donation")
	}
	s.invalidatePublicCache(ctx)
	return nil
}

func (s *DonationService) invalidatePublicCache(ctx context.Context) {
	if err := s.cache.InvalidatePublic(ctx); err != nil {
		s.logger.Warn("failed to invalidate public cache", zap.Error(err))
	}
}

// validateDonationPayload enforces the tagged-variant contract: the type is
// resolved first, then only the matching payload is checked; the other
// payload must be absent.
func validateDonationPayload(fields *appErrors.FieldErrors, donationType models.DonationType, cash *models.CashDetails, inKind *models.InKindDetails) {
	switch donationType {
	case models.DonationCash:
		if cash == nil {
			fields.Required("cash_details")
		} else if cash.Amount <= 0 {
			fields.Invalid("cash_details.amount", "amount must be positive")
		}
		if inKind != nil {
			fields.Forbidden("in_kind_details", "for cash donations")
		}
	case models.DonationInKind:
		if inKind == nil {
			fields.Required("in_kind_details")
		} else {
			if inKind.Description == "" {
				fields.Required("in_kind_details.description")
			}
			if inKind.EstimatedValue < 0 {
				fields.Invalid("in_kind_details.estimated_value", "estimated_value must not be negative")
			}
		}
		if cash != nil {
			fields.Forbidden("cash_details", "for in-kind donations")
		}
	case "":
		fields.Required("donation_type")
	default:
		fields.Invalid("donation_type", fmt.Sprintf("unknown donation type %q", donationType))
	}
}

func applyDonationDetails(donation *models.Donation, cash *models.CashDetails, inKind *models.InKindDetails) {
	if cash != nil {
		wrapped := models.CashJSON(*cash)
		donation.CashDetails = &wrapped
	}
	if inKind != nil {
		wrapped := models.InKindJSON(*inKind)
		donation.InKindDetails = &wrapped
	}
}

func emptyDonationUpdate(req UpdateDonationRequest) bool {
	return req.DonorName == nil && req.DonationType == nil && req.CashDetails == nil &&
		req.InKindDetails == nil && req.ProgramID == nil && req.CommunityName == nil &&
		req.Note == nil && req.ReceivedAt == nil
}
