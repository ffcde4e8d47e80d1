package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/service"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// TourParam is the path parameter scoping reviews to one tour.
const TourParam = "tourId"

// ReviewOperations is the review service surface used by ReviewHandler.
type ReviewOperations interface {
	CreateOne(ctx context.Context, review *models.Review) (*models.Review, error)
	GetOne(ctx context.Context, id string) (*models.Review, error)
	GetAll(ctx context.Context, raw map[string]string, scope ...query.Term) (*service.Page[models.Review], error)
	UpdateOne(ctx context.Context, actor *models.User, id string, patch []byte) (*models.Review, error)
	DeleteOne(ctx context.Context, actor *models.User, id string) error
}

// ReviewHandler serves reviews, standalone and nested under a tour.
type ReviewHandler struct {
	service ReviewOperations
}

// NewReviewHandler creates a ReviewHandler.
func NewReviewHandler(svc ReviewOperations) *ReviewHandler {
	return &ReviewHandler{service: svc}
}

// GetAll godoc
// @Summary List reviews
// @Description Lists all reviews, or those of one tour on the nested route
// @Tags Reviews
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reviews [get]
func (h *ReviewHandler) GetAll(c *gin.Context) {
	var scope []query.Term
	if tourID := c.Param(TourParam); tourID != "" {
		scope = append(scope, query.Term{Field: "tour", Op: query.OpEq, Value: tourID})
	}
	page, err := h.service.GetAll(c.Request.Context(), query.FromValues(c.Request.URL.Query()), scope...)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := project(page.Items, page.Fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &page.Pagination)
}

// GetOne godoc
// @Summary Get review
// @Tags Reviews
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [get]
func (h *ReviewHandler) GetOne(c *gin.Context) {
	review, err := h.service.GetOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// CreateOne godoc
// @Summary Create review
// @Description The author is the current user; on the nested route the tour comes from the path
// @Tags Reviews
// @Accept json
// @Produce json
// @Param payload body models.Review true "Review"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reviews [post]
func (h *ReviewHandler) CreateOne(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var review models.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		response.Error(c, invalidBody(err))
		return
	}
	if tourID := c.Param(TourParam); tourID != "" {
		review.TourID = tourID
	}
	review.UserID = user.ID

	created, err := h.service.CreateOne(c.Request.Context(), &review)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// UpdateOne godoc
// @Summary Update review
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reviews/{id} [patch]
func (h *ReviewHandler) UpdateOne(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	patch, err := c.GetRawData()
	if err != nil {
		response.Error(c, invalidBody(err))
		return
	}
	review, err := h.service.UpdateOne(c.Request.Context(), user, c.Param("id"), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// DeleteOne godoc
// @Summary Delete review
// @Tags Reviews
// @Param id path string true "Review ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /reviews/{id} [delete]
func (h *ReviewHandler) DeleteOne(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	if err := h.service.DeleteOne(c.Request.Context(), user, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
