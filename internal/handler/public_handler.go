package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/service"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
	"github.com/lenteraid/transparency-api/pkg/response"
)

// PublicHandler serves unauthenticated transparency endpoints. Only
// published programs and aggregate figures are exposed here.
type PublicHandler struct {
	programs *service.ProgramService
	summary  *service.SummaryService
}

// NewPublicHandler constructs handler.
func NewPublicHandler(programs *service.ProgramService, summary *service.SummaryService) *PublicHandler {
	return &PublicHandler{programs: programs, summary: summary}
}

// ListPrograms godoc
// @Summary List published programs
// @Tags Public
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param community query string false "Community filter"
// @Param search query string false "Search in title"
// @Success 200 {object} response.Envelope
// @Router /public/programs [get]
func (h *PublicHandler) ListPrograms(c *gin.Context) {
	filter := parseProgramFilter(c)
	published := models.ProgramStatusPublished
	filter.Status = &published

	programs, pagination, err := h.programs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, pagination)
}

// GetProgram godoc
// @Summary Get a published program
// @Description Unpublished programs are visible only to content managers
// @Tags Public
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /public/programs/{id} [get]
func (h *PublicHandler) GetProgram(c *gin.Context) {
	program, err := h.programs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if program.Status != models.ProgramStatusPublished && !viewerCanPreview(c) {
		// Drafts must be indistinguishable from missing programs.
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// viewerCanPreview reports whether an optionally-authenticated viewer may see
// unpublished content.
func viewerCanPreview(c *gin.Context) bool {
	claims := claimsFromContext(c)
	return claims != nil && claims.Role.CanManageContent()
}

// Summary godoc
// @Summary Aggregate transparency figures
// @Description Cached totals of donations, expenses, programs and projects
// @Tags Public
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /public/summary [get]
func (h *PublicHandler) Summary(c *gin.Context) {
	summary, err := h.summary.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
