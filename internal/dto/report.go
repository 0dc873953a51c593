package dto

import (
	"time"

	"github.com/lenteraid/transparency-api/internal/models"
)

// CreateReportRequest captures POST /reports payload.
type CreateReportRequest struct {
	Type    models.ReportType    `json:"type"`
	Filters models.ReportFilters `json:"filters"`
	Format  models.ReportFormat  `json:"format"`
}

// ReportJobResponse exposes job state to clients.
type ReportJobResponse struct {
	ID             string               `json:"id"`
	Type           models.ReportType    `json:"type"`
	Filters        models.ReportFilters `json:"filters"`
	Format         models.ReportFormat  `json:"format"`
	Status         models.ReportStatus  `json:"status"`
	OutputLocation *string              `json:"output_location,omitempty"`
	OutputKey      *string              `json:"output_key,omitempty"`
	ErrorMessage   *string              `json:"error_message,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// FromReportJob maps the persisted record onto the response shape.
func FromReportJob(job *models.ReportJob) *ReportJobResponse {
	if job == nil {
		return nil
	}
	return &ReportJobResponse{
		ID:             job.ID,
		Type:           job.Type,
		Filters:        job.Filters,
		Format:         job.Format,
		Status:         job.Status,
		OutputLocation: job.OutputLocation,
		OutputKey:      job.OutputKey,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// WorkerUpdateRequest is the restricted update surface exposed to the report
// worker: status plus output or error fields, nothing else.
type WorkerUpdateRequest struct {
	Status         models.ReportStatus `json:"status"`
	OutputLocation *string             `json:"output_location,omitempty"`
	OutputKey      *string             `json:"output_key,omitempty"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
}
