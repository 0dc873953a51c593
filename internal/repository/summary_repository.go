package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SummaryTotals aggregates the headline figures shown on the public
// transparency page.
type SummaryTotals struct {
	CashDonations  float64 `db:"cash_donations" json:"cash_donations"`
	InKindValue    float64 `db:"in_kind_value" json:"in_kind_value"`
	DonationCount  int     `db:"donation_count" json:"donation_count"`
	TotalExpenses  float64 `db:"total_expenses" json:"total_expenses"`
	ExpenseCount   int     `db:"expense_count" json:"expense_count"`
	ProgramCount   int     `db:"program_count" json:"program_count"`
	PublishedCount int     `db:"published_count" json:"published_count"`
	ProjectCount   int     `db:"project_count" json:"project_count"`
	CommunityCount int     `db:"community_count" json:"community_count"`
}

// SummaryRepository aggregates totals across donations, expenses, programs
// and projects for the public summary endpoint.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Totals computes the aggregate figures in a single round trip per table.
func (r *SummaryRepository) Totals(ctx context.Context) (*SummaryTotals, error) {
	var totals SummaryTotals

	const donationQuery = `SELECT
COALESCE(SUM(CASE WHEN donation_type = 'Cash' THEN (cash_details->>'amount')::numeric ELSE 0 END), 0) AS cash_donations,
COALESCE(SUM(CASE WHEN donation_type = 'InKind' THEN (in_kind_details->>'estimated_value')::numeric ELSE 0 END), 0) AS in_kind_value,
COUNT(*) AS donation_count
FROM donations`
	if err := r.db.GetContext(ctx, &totals, donationQuery); err != nil {
		return nil, fmt.Errorf("summary donations: %w", err)
	}

	const expenseQuery = `SELECT COALESCE(SUM(amount), 0) AS total_expenses, COUNT(*) AS expense_count FROM expenses`
	var expenses struct {
		TotalExpenses float64 `db:"total_expenses"`
		ExpenseCount  int     `db:"expense_count"`
	}
	if err := r.db.GetContext(ctx, &expenses, expenseQuery); err != nil {
		return nil, fmt.Errorf("summary expenses: %w", err)
	}
	totals.TotalExpenses = expenses.TotalExpenses
	totals.ExpenseCount = expenses.ExpenseCount

	const programQuery = `SELECT COUNT(*) AS program_count,
COUNT(*) FILTER (WHERE status = 'published') AS published_count,
COUNT(DISTINCT community_name) AS community_count
FROM programs`
	var programs struct {
		ProgramCount   int `db:"program_count"`
		PublishedCount int `db:"published_count"`
		CommunityCount int `db:"community_count"`
	}
	if err := r.db.GetContext(ctx, &programs, programQuery); err != nil {
		return nil, fmt.Errorf("summary programs: %w", err)
	}
	totals.ProgramCount = programs.ProgramCount
	totals.PublishedCount = programs.PublishedCount
	totals.CommunityCount = programs.CommunityCount

	const projectQuery = `SELECT COUNT(*) FROM projects`
	if err := r.db.GetContext(ctx, &totals.ProjectCount, projectQuery); err != nil {
		return nil, fmt.Errorf("summary projects: %w", err)
	}

	return &totals, nil
}
