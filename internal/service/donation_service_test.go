package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

type mockDonationRepo struct {
	donations   map[string]*models.Donation
	createCalls int
	updateCalls int
}

func newMockDonationRepo(seed ...*models.Donation) *mockDonationRepo {
	m := &mockDonationRepo{donations: make(map[string]*models.Donation)}
	for _, d := range seed {
		m.donations[d.ID] = d
	}
	return m
}

func (m *mockDonationRepo) List(_ context.Context, _ models.DonationFilter) ([]models.Donation, int, error) {
	out := make([]models.Donation, 0, len(m.donations))
	for _, d := range m.donations {
		out = append(out, *d)
	}
	return out, len(out), nil
}

func (m *mockDonationRepo) FindByID(_ context.Context, id string) (*models.Donation, error) {
	d, ok := m.donations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *d
	return &clone, nil
}

func (m *mockDonationRepo) Create(_ context.Context, donation *models.Donation) error {
	m.createCalls++
	if donation.ID == "" {
		donation.ID = "don-1"
	}
	clone := *donation
	m.donations[donation.ID] = &clone
	return nil
}

func (m *mockDonationRepo) Update(_ context.Context, donation *models.Donation) error {
	m.updateCalls++
	clone := *donation
	m.donations[donation.ID] = &clone
	return nil
}

func (m *mockDonationRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.donations[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.donations, id)
	return nil
}

func validCashRequest() CreateDonationRequest {
	return CreateDonationRequest{
		DonorName:     "Budi",
		DonationType:  models.DonationCash,
		CashDetails:   &models.CashDetails{Amount: 500000, Currency: "IDR"},
		CommunityName: "Kampung Melati",
		ReceivedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDonationCreateCashVariant(t *testing.T) {
	repo := newMockDonationRepo()
	svc := NewDonationService(repo, nil, zap.NewNop())

	donation, err := svc.Create(context.Background(), validCashRequest())
	require.NoError(t, err)
	require.NotNil(t, donation.CashDetails)
	assert.Nil(t, donation.InKindDetails)
	assert.Equal(t, 1, repo.createCalls)
}

func TestDonationCreateRejectsMixedPayloads(t *testing.T) {
	svc := NewDonationService(newMockDonationRepo(), nil, zap.NewNop())

	req := validCashRequest()
	req.InKindDetails = &models.InKindDetails{Description: "books", EstimatedValue: 100}

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "in_kind_details", appErr.Fields[0].Field)
	assert.Equal(t, appErrors.ReasonForbidden, appErr.Fields[0].Code)
}

func TestDonationCreateInKindRequiresDescription(t *testing.T) {
	svc := NewDonationService(newMockDonationRepo(), nil, zap.NewNop())

	req := validCashRequest()
	req.DonationType = models.DonationInKind
	req.CashDetails = nil
	req.InKindDetails = &models.InKindDetails{EstimatedValue: -5}

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)

	fields := make(map[string]string)
	for _, fe := range appErr.Fields {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, appErrors.ReasonRequired, fields["in_kind_details.description"])
	assert.Equal(t, appErrors.ReasonInvalid, fields["in_kind_details.estimated_value"])
}

func TestDonationCreateRejectsNonPositiveAmount(t *testing.T) {
	svc := NewDonationService(newMockDonationRepo(), nil, zap.NewNop())

	req := validCashRequest()
	req.CashDetails.Amount = 0

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "cash_details.amount", appErr.Fields[0].Field)
}

func TestDonationUpdateRejectsEmptyPayload(t *testing.T) {
	svc := NewDonationService(newMockDonationRepo(), nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "don-1", UpdateDonationRequest{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, appErrors.ReasonEmpty, appErr.Fields[0].Code)
}

func TestDonationUpdateTypeSwitchRequiresMatchingPayload(t *testing.T) {
	cash := models.CashJSON{Amount: 500000, Currency: "IDR"}
	existing := &models.Donation{
		ID:            "don-1",
		DonorName:     "Budi",
		DonationType:  models.DonationCash,
		CashDetails:   &cash,
		CommunityName: "Kampung Melati",
		ReceivedAt:    time.Now(),
	}
	svc := NewDonationService(newMockDonationRepo(existing), nil, zap.NewNop())

	inKind := models.DonationInKind
	_, err := svc.Update(context.Background(), "don-1", UpdateDonationRequest{DonationType: &inKind})
	require.Error(t, err)
	appErr := appErrors.FromError(err)

	fields := make(map[string]bool)
	for _, fe := range appErr.Fields {
		fields[fe.Field] = true
	}
	assert.True(t, fields["in_kind_details"])
}

func TestDonationUpdateTypeSwitchReplacesDetails(t *testing.T) {
	cash := models.CashJSON{Amount: 500000, Currency: "IDR"}
	existing := &models.Donation{
		ID:            "don-1",
		DonorName:     "Budi",
		DonationType:  models.DonationCash,
		CashDetails:   &cash,
		CommunityName: "Kampung Melati",
		ReceivedAt:    time.Now(),
	}
	repo := newMockDonationRepo(existing)
	svc := NewDonationService(repo, nil, zap.NewNop())

	inKind := models.DonationInKind
	updated, err := svc.Update(context.Background(), "don-1", UpdateDonationRequest{
		DonationType:  &inKind,
		InKindDetails: &models.InKindDetails{Description: "rice", EstimatedValue: 250000},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DonationInKind, updated.DonationType)
	assert.Nil(t, updated.CashDetails)
	require.NotNil(t, updated.InKindDetails)
	assert.Equal(t, "rice", updated.InKindDetails.Description)
}

func TestDonationDeleteNotFound(t *testing.T) {
	svc := NewDonationService(newMockDonationRepo(), nil, zap.NewNop())

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
