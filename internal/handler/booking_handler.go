package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// BookingOperations is the booking service surface used by BookingHandler.
type BookingOperations interface {
	ResourceOperations[models.Booking]
	MyTours(ctx context.Context, user *models.User) ([]models.Tour, error)
}

// BookingHandler serves bookings.
type BookingHandler struct {
	*ResourceHandler[models.Booking]
	bookings BookingOperations
}

// NewBookingHandler creates a BookingHandler.
func NewBookingHandler(svc BookingOperations) *BookingHandler {
	return &BookingHandler{ResourceHandler: NewResourceHandler[models.Booking](svc), bookings: svc}
}

// MyTours godoc
// @Summary Tours booked by the current user
// @Tags Bookings
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /bookings/me [get]
func (h *BookingHandler) MyTours(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	tours, err := h.bookings.MyTours(c.Request.Context(), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tours)
}
