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

// ProgramHandler exposes community program endpoints.
type ProgramHandler struct {
	service *service.ProgramService
}

// NewProgramHandler constructs handler.
func NewProgramHandler(svc *service.ProgramService) *ProgramHandler {
	return &ProgramHandler{service: svc}
}

func parseProgramFilter(c *gin.Context) models.ProgramFilter {
	var filter models.ProgramFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.ProgramStatus(status)
		filter.Status = &s
	}
	filter.CommunityName = c.Query("community")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")
	return filter
}

// List godoc
// @Summary List programs
// @Tags Programs
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param community query string false "Community filter"
// @Param search query string false "Search in title"
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	programs, pagination, err := h.service.List(c.Request.Context(), parseProgramFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, pagination)
}

// Get godoc
// @Summary Get a program by ID
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	program, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// Create godoc
// @Summary Create a program
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body service.CreateProgramRequest true "Program payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /programs [post]
func (h *ProgramHandler) Create(c *gin.Context) {
	var req service.CreateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	program, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, program)
}

// Update godoc
// @Summary Update a program
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body service.UpdateProgramRequest true "Program payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [put]
func (h *ProgramHandler) Update(c *gin.Context) {
	var req service.UpdateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	program, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// Delete godoc
// @Summary Delete a program
// @Tags Programs
// @Param id path string true "Program ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [delete]
func (h *ProgramHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
