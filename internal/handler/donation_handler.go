package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/service"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
	"github.com/lenteraid/transparency-api/pkg/response"
)

// DonationHandler exposes donation endpoints.
type DonationHandler struct {
	service *service.DonationService
}

// NewDonationHandler constructs handler.
func NewDonationHandler(svc *service.DonationService) *DonationHandler {
	return &DonationHandler{service: svc}
}

// List godoc
// @Summary List donations
// @Tags Donations
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param type query string false "Donation type filter (Cash or InKind)"
// @Param community query string false "Community filter"
// @Param from query string false "Received from date (YYYY-MM-DD)"
// @Param to query string false "Received to date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /donations [get]
func (h *DonationHandler) List(c *gin.Context) {
	var filter models.DonationFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if donationType := c.Query("type"); donationType != "" {
		t := models.DonationType(donationType)
		filter.DonationType = &t
	}
	if programID := c.Query("program_id"); programID != "" {
		filter.ProgramID = &programID
	}
	if from := c.Query("from"); from != "" {
		if parsed, err := time.Parse("2006-01-02", from); err == nil {
			filter.From = &parsed
		}
	}
	if to := c.Query("to"); to != "" {
		if parsed, err := time.Parse("2006-01-02", to); err == nil {
			end := parsed.Add(24*time.Hour - time.Nanosecond)
			filter.To = &end
		}
	}
	filter.CommunityName = c.Query("community")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	donations, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, donations, pagination)
}

// Get godoc
// @Summary Get a donation by ID
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /donations/{id} [get]
func (h *DonationHandler) Get(c *gin.Context) {
	donation, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, donation, nil)
}

// Create godoc
// @Summary Record a donation
// @Tags Donations
// @Accept json
// @Produce json
// @Param payload body service.CreateDonationRequest true "Donation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /donations [post]
func (h *DonationHandler) Create(c *gin.Context) {
	var req service.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	donation, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, donation)
}

// Update godoc
// @Summary Update a donation
// @Tags Donations
// @Accept json
// @Produce json
// @Param id path string true "Donation ID"
// @Param payload body service.UpdateDonationRequest true "Donation payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /donations/{id} [put]
func (h *DonationHandler) Update(c *gin.Context) {
	var req service.UpdateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	donation, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, donation, nil)
}

// Delete godoc
// @Summary Delete a donation
// @Tags Donations
// @Param id path string true "Donation ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /donations/{id} [delete]
func (h *DonationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
