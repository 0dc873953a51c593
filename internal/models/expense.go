package models

import "time"

// ExpenseCategory enumerates accepted spending categories.
type ExpenseCategory string

const (
	ExpenseProgram     ExpenseCategory = "program"
	ExpenseOperational ExpenseCategory = "operational"
	ExpenseFundraising ExpenseCategory = "fundraising"
)

// Expense records money spent by the foundation.
type Expense struct {
	ID            string          `db:"id" json:"id"`
	Category      ExpenseCategory `db:"category" json:"category"`
	Description   string          `db:"description" json:"description"`
	Amount        float64         `db:"amount" json:"amount"`
	ProgramID     *string         `db:"program_id" json:"program_id,omitempty"`
	CommunityName string          `db:"community_name" json:"community_name"`
	SpentAt       time.Time       `db:"spent_at" json:"spent_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ExpenseFilter captures list criteria for expenses.
type ExpenseFilter struct {
	Category      *ExpenseCategory
	CommunityName string
	ProgramID     *string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
