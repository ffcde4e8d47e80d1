package handler

import (
	"context"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// UserOperations is the user service surface used by UserHandler.
type UserOperations interface {
	ResourceOperations[models.User]
	Me(ctx context.Context, user *models.User) (*models.User, error)
	UpdateMe(ctx context.Context, user *models.User, req models.UpdateMeRequest, photo io.Reader) (*models.User, error)
	DeleteMe(ctx context.Context, user *models.User) error
}

// UserHandler serves self-service profile endpoints and admin user CRUD.
type UserHandler struct {
	*ResourceHandler[models.User]
	users UserOperations
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc UserOperations) *UserHandler {
	return &UserHandler{ResourceHandler: NewResourceHandler[models.User](svc), users: svc}
}

// Me godoc
// @Summary Current user
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	me, err := h.users.Me(c.Request.Context(), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, me)
}

// UpdateMe godoc
// @Summary Update profile
// @Description Changes name or email; a multipart request may carry a photo
// @Tags Users
// @Accept json,multipart/form-data
// @Produce json
// @Param payload body models.UpdateMeRequest true "Profile fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/updateMe [patch]
func (h *UserHandler) UpdateMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateMeRequest
	var photo io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, invalidBody(err))
			return
		}
		if fh, err := c.FormFile("photo"); err == nil {
			f, err := fh.Open()
			if err != nil {
				response.Error(c, invalidBody(err))
				return
			}
			defer f.Close()
			photo = f
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidBody(err))
		return
	}

	updated, err := h.users.UpdateMe(c.Request.Context(), user, req, photo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, updated)
}

// DeleteMe godoc
// @Summary Deactivate account
// @Tags Users
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /users/deleteMe [delete]
func (h *UserHandler) DeleteMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.users.DeleteMe(c.Request.Context(), user); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
