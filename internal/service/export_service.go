package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/pkg/export"
	"github.com/lenteraid/transparency-api/pkg/storage"
)

type donationLister interface {
	List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, int, error)
}

type expenseLister interface {
	List(ctx context.Context, filter models.ExpenseFilter) ([]models.Expense, int, error)
}

type programLister interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListByCommunity(ctx context.Context, community string) ([]models.Program, error)
	ListByCommunityBetween(ctx context.Context, community string, from, to time.Time) ([]models.Program, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	donations donationLister
	expenses  expenseLister
	programs  programLister
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(donations donationLister, expenses expenseLister, programs programLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		donations: donations,
		expenses:  expenses,
		programs:  programs,
		storage:   store,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), shortID(job.ID), timestamp, job.Format)
}

func shortID(id string) string {
	cleaned := strings.ReplaceAll(id, "-", "")
	if len(cleaned) > 8 {
		return cleaned[:8]
	}
	if cleaned == "" {
		return "na"
	}
	return cleaned
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeFinancialSummary:
		return s.buildFinancialDataset(ctx, job.Filters)
	case models.ReportTypeCommunityActivity:
		return s.buildActivityDataset(ctx, job.Filters)
	case models.ReportTypeParticipantDemographics:
		return s.buildDemographicsDataset(ctx, job.Filters)
	case models.ReportTypeProgramImpact:
		return s.buildImpactDataset(ctx, job.Filters)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildFinancialDataset(ctx context.Context, filters models.ReportFilters) (export.Dataset, string, error) {
	from, to, err := parseDateRange(filters)
	if err != nil {
		return export.Dataset{}, "", err
	}

	donations, _, err := s.donations.List(ctx, models.DonationFilter{From: &from, To: &to, PageSize: 500, SortBy: "received_at", SortOrder: "ASC"})
	if err != nil {
		return export.Dataset{}, "", err
	}
	expenses, _, err := s.expenses.List(ctx, models.ExpenseFilter{From: &from, To: &to, PageSize: 500, SortBy: "spent_at", SortOrder: "ASC"})
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := []string{"Date", "Kind", "Category", "Description", "Community", "Amount"}
	rows := make([]map[string]string, 0, len(donations)+len(expenses))
	var totalIn, totalOut float64
	for _, d := range donations {
		totalIn += d.Amount()
		rows = append(rows, map[string]string{
			"Date":        d.ReceivedAt.UTC().Format("2006-01-02"),
			"Kind":        "Donation",
			"Category":    string(d.DonationType),
			"Description": d.DonorName,
			"Community":   d.CommunityName,
			"Amount":      fmt.Sprintf("%.2f", d.Amount()),
		})
	}
	for _, e := range expenses {
		totalOut += e.Amount
		rows = append(rows, map[string]string{
			"Date":        e.SpentAt.UTC().Format("2006-01-02"),
			"Kind":        "Expense",
			"Category":    string(e.Category),
			"Description": e.Description,
			"Community":   e.CommunityName,
			"Amount":      fmt.Sprintf("-%.2f", e.Amount),
		})
	}
	rows = append(rows,
		map[string]string{"Kind": "Total", "Description": "Donations received", "Amount": fmt.Sprintf("%.2f", totalIn)},
		map[string]string{"Kind": "Total", "Description": "Expenses paid", "Amount": fmt.Sprintf("-%.2f", totalOut)},
		map[string]string{"Kind": "Total", "Description": "Net", "Amount": fmt.Sprintf("%.2f", totalIn-totalOut)},
	)

	title := fmt.Sprintf("Financial Summary %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func (s *ExportService) buildActivityDataset(ctx context.Context, filters models.ReportFilters) (export.Dataset, string, error) {
	community := filters[models.FilterCommunityName]
	from, to, err := parseDateRange(filters)
	if err != nil {
		return export.Dataset{}, "", err
	}

	programs, err := s.programs.ListByCommunityBetween(ctx, community, from, to)
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := []string{"Program", "Location", "Status", "Start Date", "Attendees", "Tutors"}
	rows := make([]map[string]string, 0, len(programs))
	for _, p := range programs {
		rows = append(rows, map[string]string{
			"Program":    p.Title,
			"Location":   p.Location,
			"Status":     string(p.Status),
			"Start Date": p.StartDate.UTC().Format("2006-01-02"),
			"Attendees":  fmt.Sprintf("%d", len(p.Attendees)),
			"Tutors":     fmt.Sprintf("%d", len(p.Tutors)),
		})
	}

	title := fmt.Sprintf("Community Activity %s", community)
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func (s *ExportService) buildDemographicsDataset(ctx context.Context, filters models.ReportFilters) (export.Dataset, string, error) {
	community := filters[models.FilterCommunityName]
	programs, err := s.programs.ListByCommunity(ctx, community)
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := []string{"Program", "Members", "Guests", "Internal Tutors", "External Tutors"}
	rows := make([]map[string]string, 0, len(programs))
	var members, guests int
	for _, p := range programs {
		var pm, pg, ti, te int
		for _, a := range p.Attendees {
			if a.Type == models.AttendeeMember {
				pm++
			} else {
				pg++
			}
		}
		for _, t := range p.Tutors {
			if t.Type == models.TutorInternal {
				ti++
			} else {
				te++
			}
		}
		members += pm
		guests += pg
		rows = append(rows, map[string]string{
			"Program":         p.Title,
			"Members":         fmt.Sprintf("%d", pm),
			"Guests":          fmt.Sprintf("%d", pg),
			"Internal Tutors": fmt.Sprintf("%d", ti),
			"External Tutors": fmt.Sprintf("%d", te),
		})
	}
	rows = append(rows, map[string]string{
		"Program": "Total",
		"Members": fmt.Sprintf("%d", members),
		"Guests":  fmt.Sprintf("%d", guests),
	})

	title := fmt.Sprintf("Participant Demographics %s", community)
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func (s *ExportService) buildImpactDataset(ctx context.Context, filters models.ReportFilters) (export.Dataset, string, error) {
	programID := filters[models.FilterProgramID]
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("load program %s: %w", programID, err)
	}

	donations, _, err := s.donations.List(ctx, models.DonationFilter{ProgramID: &programID, PageSize: 500, SortBy: "received_at", SortOrder: "ASC"})
	if err != nil {
		return export.Dataset{}, "", err
	}
	expenses, _, err := s.expenses.List(ctx, models.ExpenseFilter{ProgramID: &programID, PageSize: 500, SortBy: "spent_at", SortOrder: "ASC"})
	if err != nil {
		return export.Dataset{}, "", err
	}

	var raised, spent float64
	for _, d := range donations {
		raised += d.Amount()
	}
	for _, e := range expenses {
		spent += e.Amount
	}

	headers := []string{"Metric", "Value"}
	rows := []map[string]string{
		{"Metric": "Program", "Value": program.Title},
		{"Metric": "Community", "Value": program.CommunityName},
		{"Metric": "Status", "Value": string(program.Status)},
		{"Metric": "Attendees", "Value": fmt.Sprintf("%d", len(program.Attendees))},
		{"Metric": "Tutors", "Value": fmt.Sprintf("%d", len(program.Tutors))},
		{"Metric": "Donations Linked", "Value": fmt.Sprintf("%d", len(donations))},
		{"Metric": "Funds Raised", "Value": fmt.Sprintf("%.2f", raised)},
		{"Metric": "Funds Spent", "Value": fmt.Sprintf("%.2f", spent)},
		{"Metric": "Balance", "Value": fmt.Sprintf("%.2f", raised-spent)},
	}

	title := fmt.Sprintf("Program Impact %s", program.Title)
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

// parseDateRange reads the start/end date filters as inclusive day bounds.
func parseDateRange(filters models.ReportFilters) (time.Time, time.Time, error) {
	from, err := time.Parse("2006-01-02", filters[models.FilterStartDate])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s: %w", models.FilterStartDate, err)
	}
	to, err := time.Parse("2006-01-02", filters[models.FilterEndDate])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s: %w", models.FilterEndDate, err)
	}
	to = to.Add(24*time.Hour - time.Nanosecond)
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s must not precede %s", models.FilterEndDate, models.FilterStartDate)
	}
	return from, to, nil
}
