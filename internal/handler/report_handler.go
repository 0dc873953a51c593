package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lenteraid/transparency-api/internal/dto"
	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/service"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
	"github.com/lenteraid/transparency-api/pkg/response"
)

// ReportHandler exposes the report job lifecycle endpoints.
type ReportHandler struct {
	service *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Create godoc
// @Summary Request a report
// @Description Creates a pending report job and queues it for generation
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.CreateReportRequest true "Report request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	job, err := h.service.CreateJob(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, job)
}

// Enqueue godoc
// @Summary Enqueue a report job
// @Description Queues a pending job or retries a failed one, clearing its error
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /reports/{id}/enqueue [post]
func (h *ReportHandler) Enqueue(c *gin.Context) {
	job, err := h.service.Enqueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// List godoc
// @Summary List report jobs
// @Tags Reports
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param type query string false "Type filter"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	var filter models.ReportJobFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.ReportStatus(status)
		if !s.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status)))
			return
		}
		filter.Status = &s
	}
	if reportType := c.Query("type"); reportType != "" {
		t := models.ReportType(reportType)
		if !models.ValidReportType(t) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report type %q", reportType)))
			return
		}
		filter.Type = &t
	}
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	jobs, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	response.JSON(c, http.StatusOK, jobs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total})
}

// Get godoc
// @Summary Get a report job
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Delete godoc
// @Summary Delete a report job
// @Description Removes a job and its output; processing jobs are refused
// @Tags Reports
// @Param id path string true "Job ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// WorkerUpdate godoc
// @Summary Worker status update
// @Description Restricted update surface for report workers: status plus output or error fields
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param payload body dto.WorkerUpdateRequest true "Status update"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/{id}/status [patch]
func (h *ReportHandler) WorkerUpdate(c *gin.Context) {
	var req dto.WorkerUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	job, err := h.service.UpdateFromWorker(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a completed report
// @Description Streams the stored export referenced by a signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	download, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	contentType := "text/csv"
	if download.Format == models.ReportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.Header("Content-Type", contentType)

	stat, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat report file"))
		return
	}
	c.DataFromReader(http.StatusOK, stat.Size(), contentType, download.File, nil)
}
