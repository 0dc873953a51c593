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

// ExpenseHandler exposes expense endpoints.
type ExpenseHandler struct {
	service *service.ExpenseService
}

// NewExpenseHandler constructs handler.
func NewExpenseHandler(svc *service.ExpenseService) *ExpenseHandler {
	return &ExpenseHandler{service: svc}
}

// List godoc
// @Summary List expenses
// @Tags Expenses
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param category query string false "Category filter"
// @Param community query string false "Community filter"
// @Param from query string false "Spent from date (YYYY-MM-DD)"
// @Param to query string false "Spent to date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /expenses [get]
func (h *ExpenseHandler) List(c *gin.Context) {
	var filter models.ExpenseFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if category := c.Query("category"); category != "" {
		cat := models.ExpenseCategory(category)
		filter.Category = &cat
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

	expenses, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, expenses, pagination)
}

// Get godoc
// @Summary Get an expense by ID
// @Tags Expenses
// @Produce json
// @Param id path string true "Expense ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /expenses/{id} [get]
func (h *ExpenseHandler) Get(c *gin.Context) {
	expense, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, expense, nil)
}

// Create godoc
// @Summary Record an expense
// @Tags Expenses
// @Accept json
// @Produce json
// @Param payload body service.CreateExpenseRequest true "Expense payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /expenses [post]
func (h *ExpenseHandler) Create(c *gin.Context) {
	var req service.CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	expense, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, expense)
}

// Update godoc
// @Summary Update an expense
// @Tags Expenses
// @Accept json
// @Produce json
// @Param id path string true "Expense ID"
// @Param payload body service.UpdateExpenseRequest true "Expense payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /expenses/{id} [put]
func (h *ExpenseHandler) Update(c *gin.Context) {
	var req service.UpdateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	expense, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, expense, nil)
}

// Delete godoc
// @Summary Delete an expense
// @Tags Expenses
// @Param id path string true "Expense ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /expenses/{id} [delete]
func (h *ExpenseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
