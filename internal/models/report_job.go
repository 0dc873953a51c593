package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportType enumerates supported asynchronous report categories.
type ReportType string

const (
	ReportTypeFinancialSummary        ReportType = "financial_summary"
	ReportTypeCommunityActivity       ReportType = "community_activity"
	ReportTypeParticipantDemographics ReportType = "participant_demographics"
	ReportTypeProgramImpact           ReportType = "program_impact"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// Well-known filter keys.
const (
	FilterStartDate     = "start_date"
	FilterEndDate       = "end_date"
	FilterCommunityName = "community_name"
	FilterProgramID     = "program_id"
)

// reportTransitions is the legal transition table. The job status column is
// the single source of truth; the pending → processing edge is claimed with
// an atomic conditional update so only one worker owns a job at a time.
var reportTransitions = map[ReportStatus]map[ReportStatus]bool{
	ReportStatusPending:    {ReportStatusPending: true, ReportStatusProcessing: true},
	ReportStatusProcessing: {ReportStatusCompleted: true, ReportStatusFailed: true},
	ReportStatusFailed:     {ReportStatusPending: true},
	ReportStatusCompleted:  {},
}

// CanTransitionTo reports whether the transition table permits from → to.
func (s ReportStatus) CanTransitionTo(to ReportStatus) bool {
	allowed, ok := reportTransitions[s]
	return ok && allowed[to]
}

// Valid reports whether the status is one of the known lifecycle states.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusProcessing, ReportStatusCompleted, ReportStatusFailed:
		return true
	default:
		return false
	}
}

// ValidReportType reports whether t is a supported report category.
func ValidReportType(t ReportType) bool {
	switch t {
	case ReportTypeFinancialSummary, ReportTypeCommunityActivity, ReportTypeParticipantDemographics, ReportTypeProgramImpact:
		return true
	default:
		return false
	}
}

// ValidReportFormat reports whether f is a supported export format.
func ValidReportFormat(f ReportFormat) bool {
	return f == ReportFormatCSV || f == ReportFormatPDF
}

// RequiredFilters returns the filter keys a report type demands at creation.
func RequiredFilters(t ReportType) []string {
	switch t {
	case ReportTypeFinancialSummary:
		return []string{FilterStartDate, FilterEndDate}
	case ReportTypeCommunityActivity:
		return []string{FilterCommunityName, FilterStartDate, FilterEndDate}
	case ReportTypeParticipantDemographics:
		return []string{FilterCommunityName}
	case ReportTypeProgramImpact:
		return []string{FilterProgramID}
	default:
		return nil
	}
}

// ReportJob is the persisted record describing a requested report, its
// filters, and its processing status.
type ReportJob struct {
	ID             string        `db:"id" json:"id"`
	Type           ReportType    `db:"type" json:"type"`
	Filters        ReportFilters `db:"filters" json:"filters"`
	Format         ReportFormat  `db:"format" json:"format"`
	Status         ReportStatus  `db:"status" json:"status"`
	OutputLocation *string       `db:"output_location" json:"output_location,omitempty"`
	OutputKey      *string       `db:"output_key" json:"output_key,omitempty"`
	ErrorMessage   *string       `db:"error_message" json:"error_message,omitempty"`
	RequestedBy    string        `db:"requested_by" json:"requested_by"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Deletable reports whether the job may be removed. Work in flight must not
// be orphaned, so processing jobs refuse deletion.
func (j *ReportJob) Deletable() bool {
	return j.Status != ReportStatusProcessing
}

// ReportFilters stores the request-scoped filter map persisted as JSONB.
type ReportFilters map[string]string

// Value marshals filters to JSON for persistence.
func (f ReportFilters) Value() (driver.Value, error) {
	if f == nil {
		f = ReportFilters{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal report filters: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the filter map.
func (f *ReportFilters) Scan(value interface{}) error {
	if value == nil {
		*f = ReportFilters{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportFilters", value)
	}
	if len(data) == 0 {
		*f = ReportFilters{}
		return nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("unmarshal report filters: %w", err)
	}
	return nil
}

// ReportJobFilter captures list criteria for report jobs.
type ReportJobFilter struct {
	Status    *ReportStatus
	Type      *ReportType
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
