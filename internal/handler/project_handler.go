package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/service"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
	"github.com/lenteraid/transparency-api/pkg/response"
)

// ProjectHandler exposes showcase project endpoints including media and finance reports.
type ProjectHandler struct {
	service *service.ProjectService
}

// NewProjectHandler constructs handler.
func NewProjectHandler(svc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{service: svc}
}

// List godoc
// @Summary List projects
// @Tags Projects
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param search query string false "Search in name"
// @Success 200 {object} response.Envelope
// @Router /projects [get]
func (h *ProjectHandler) List(c *gin.Context) {
	var filter models.ProjectFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.ProjectStatus(status)
		filter.Status = &s
	}
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	projects, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, projects, pagination)
}

// Get godoc
// @Summary Get a project with gallery and finance report
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id} [get]
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// Create godoc
// @Summary Create a project
// @Tags Projects
// @Accept json
// @Produce json
// @Param payload body service.CreateProjectRequest true "Project payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /projects [post]
func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	project, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}

// Update godoc
// @Summary Update a project
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body service.UpdateProjectRequest true "Project payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id} [put]
func (h *ProjectHandler) Update(c *gin.Context) {
	var req service.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	project, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// Delete godoc
// @Summary Delete a project and its attachments
// @Tags Projects
// @Param id path string true "Project ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /projects/{id} [delete]
func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddMedia godoc
// @Summary Attach media to a project gallery
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body service.AddMediaRequest true "Media payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id}/media [post]
func (h *ProjectHandler) AddMedia(c *gin.Context) {
	var req service.AddMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	media, err := h.service.AddMedia(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, media)
}

// DeleteMedia godoc
// @Summary Remove a media item from a project gallery
// @Tags Projects
// @Param id path string true "Project ID"
// @Param mediaId path string true "Media ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /projects/{id}/media/{mediaId} [delete]
func (h *ProjectHandler) DeleteMedia(c *gin.Context) {
	if err := h.service.DeleteMedia(c.Request.Context(), c.Param("id"), c.Param("mediaId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SaveFinanceReport godoc
// @Summary Create or replace a project's finance report
// @Description Balance is always recomputed from income minus expenses
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body service.SaveFinanceReportRequest true "Finance report payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id}/finance-report [put]
func (h *ProjectHandler) SaveFinanceReport(c *gin.Context) {
	var req service.SaveFinanceReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	report, err := h.service.SaveFinanceReport(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
