package models

import "time"

// ProjectStatus tracks a project's lifecycle for the public pages.
type ProjectStatus string

const (
	ProjectStatusPlanned   ProjectStatus = "planned"
	ProjectStatusOngoing   ProjectStatus = "ongoing"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// Project groups related work with a media gallery and an optional finance
// report.
type Project struct {
	ID          string        `db:"id" json:"id"`
	Name        string        `db:"name" json:"name"`
	Description string        `db:"description" json:"description"`
	Status      ProjectStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`

	Gallery       []Media        `db:"-" json:"gallery,omitempty"`
	FinanceReport *FinanceReport `db:"-" json:"finance_report,omitempty"`
}

// MediaKind enumerates gallery item types.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media is a gallery item owned by a project.
type Media struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Kind      MediaKind `db:"kind" json:"kind"`
	URL       string    `db:"url" json:"url"`
	Caption   string    `db:"caption" json:"caption,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FinanceReport summarises a project's finances. Balance is derived: it
// always equals income minus expenses and is recomputed on every save.
type FinanceReport struct {
	ID        string    `db:"id" json:"id"`
	ProjectID string    `db:"project_id" json:"project_id"`
	Income    float64   `db:"income" json:"income"`
	Expenses  float64   `db:"expenses" json:"expenses"`
	Balance   float64   `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Recompute enforces the balance invariant.
func (f *FinanceReport) Recompute() {
	f.Balance = f.Income - f.Expenses
}

// ProjectFilter captures list criteria for projects.
type ProjectFilter struct {
	Status    *ProjectStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
