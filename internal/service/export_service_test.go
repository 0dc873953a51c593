package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/pkg/storage"
)

type stubDonationLister struct{ donations []models.Donation }

func (s stubDonationLister) List(_ context.Context, _ models.DonationFilter) ([]models.Donation, int, error) {
	return s.donations, len(s.donations), nil
}

type stubExpenseLister struct{ expenses []models.Expense }

func (s stubExpenseLister) List(_ context.Context, _ models.ExpenseFilter) ([]models.Expense, int, error) {
	return s.expenses, len(s.expenses), nil
}

type stubProgramLister struct{ programs []models.Program }

func (s stubProgramLister) FindByID(_ context.Context, id string) (*models.Program, error) {
	for i := range s.programs {
		if s.programs[i].ID == id {
			return &s.programs[i], nil
		}
	}
	return nil, io.EOF
}

func (s stubProgramLister) ListByCommunity(_ context.Context, _ string) ([]models.Program, error) {
	return s.programs, nil
}

func (s stubProgramLister) ListByCommunityBetween(_ context.Context, _ string, _, _ time.Time) ([]models.Program, error) {
	return s.programs, nil
}

func newExportServiceForTest(t *testing.T, donations stubDonationLister, expenses stubExpenseLister, programs stubProgramLister) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}
	return NewExportService(donations, expenses, programs, store, signer, cfg, zap.NewNop(), nil, nil)
}

func TestExportServiceGenerateFinancialCSV(t *testing.T) {
	cash := models.CashJSON{Amount: 500000, Currency: "IDR"}
	donations := stubDonationLister{donations: []models.Donation{{
		ID:            "don-1",
		DonorName:     "Budi",
		DonationType:  models.DonationCash,
		CashDetails:   &cash,
		CommunityName: "Kampung Melati",
		ReceivedAt:    time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}}}
	expenses := stubExpenseLister{expenses: []models.Expense{{
		ID:            "exp-1",
		Category:      models.ExpenseProgram,
		Description:   "school supplies",
		Amount:        150000,
		CommunityName: "Kampung Melati",
		SpentAt:       time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}}}
	svc := newExportServiceForTest(t, donations, expenses, stubProgramLister{})

	job := &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeFinancialSummary,
		Format: models.ReportFormatCSV,
		Filters: models.ReportFilters{
			models.FilterStartDate: "2026-03-01",
			models.FilterEndDate:   "2026-03-31",
		},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, result.RelativePath)
	assert.Contains(t, result.URL, "/reports/download/")
	assert.Equal(t, models.ReportFormatCSV, result.Format)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()

	body, err := io.ReadAll(file)
	require.NoError(t, err)
	content := string(body)
	assert.Contains(t, content, "Budi")
	assert.Contains(t, content, "-150000.00")
	assert.Contains(t, content, "350000.00") // net of donations minus expenses
}

func TestExportServiceGenerateImpactPDF(t *testing.T) {
	programs := stubProgramLister{programs: []models.Program{{
		ID:            "prog-1",
		Title:         "Literacy Workshop",
		CommunityName: "Kampung Melati",
		Status:        models.ProgramStatusPublished,
		StartDate:     time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	}}}
	svc := newExportServiceForTest(t, stubDonationLister{}, stubExpenseLister{}, programs)

	job := &models.ReportJob{
		ID:      "job-2",
		Type:    models.ReportTypeProgramImpact,
		Format:  models.ReportFormatPDF,
		Filters: models.ReportFilters{models.FilterProgramID: "prog-1"},
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatPDF, result.Format)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()

	info, err := file.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportServiceRejectsBadDateRange(t *testing.T) {
	svc := newExportServiceForTest(t, stubDonationLister{}, stubExpenseLister{}, stubProgramLister{})

	job := &models.ReportJob{
		ID:     "job-3",
		Type:   models.ReportTypeFinancialSummary,
		Format: models.ReportFormatCSV,
		Filters: models.ReportFilters{
			models.FilterStartDate: "2026-03-31",
			models.FilterEndDate:   "2026-03-01",
		},
	}

	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
}

func TestExportServiceCleanupRemovesExpiredFiles(t *testing.T) {
	svc := newExportServiceForTest(t, stubDonationLister{}, stubExpenseLister{}, stubProgramLister{})

	job := &models.ReportJob{
		ID:      "job-4",
		Type:    models.ReportTypeParticipantDemographics,
		Format:  models.ReportFormatCSV,
		Filters: models.ReportFilters{models.FilterCommunityName: "Kampung Melati"},
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	removed, err := svc.Cleanup(time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, removed, result.RelativePath)

	_, err = svc.Open(result.RelativePath)
	assert.Error(t, err)
}
