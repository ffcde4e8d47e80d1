package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// AuthOperations is the credential lifecycle used by AuthHandler.
type AuthOperations interface {
	Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResult, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error)
	ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, token string, req models.ResetPasswordRequest) (*models.AuthResult, error)
	UpdatePassword(ctx context.Context, user *models.User, req models.UpdatePasswordRequest) (*models.AuthResult, error)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	MaxAge time.Duration
	Secure bool
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service AuthOperations
	cookie  CookieConfig
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc AuthOperations, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie}
}

// Signup godoc
// @Summary Create account
// @Description Creates a regular user and signs them in
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.SignupRequest true "Signup payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signup payload"))
		return
	}
	res, err := h.service.Signup(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.sendSession(c, http.StatusCreated, res)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.sendSession(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Logout
// @Description Overwrites the session cookie with a short-lived placeholder
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/logout [get]
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, middleware.LoggedOutValue, 10, "/", "", h.cookie.Secure, true)
	response.OK(c, nil)
}

// ForgotPassword godoc
// @Summary Forgot password
// @Description Mails a single-use reset link valid for ten minutes
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ForgotPasswordRequest true "Forgot password"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /users/forgotPassword [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.ForgotPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "token sent to email"})
}

// ResetPassword godoc
// @Summary Reset password
// @Description Consumes a reset token and signs the user in
// @Tags Authentication
// @Accept json
// @Produce json
// @Param token path string true "Reset token"
// @Param payload body models.ResetPasswordRequest true "New password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/resetPassword/{token} [patch]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.service.ResetPassword(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.sendSession(c, http.StatusOK, res)
}

// UpdatePassword godoc
// @Summary Change password
// @Description Changes the password of the current user and issues a fresh session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.UpdatePasswordRequest true "Change password"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/updateMyPassword [patch]
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.service.UpdatePassword(c.Request.Context(), user, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.sendSession(c, http.StatusOK, res)
}

func (h *AuthHandler) sendSession(c *gin.Context, status int, res *models.AuthResult) {
	maxAge := int(h.cookie.MaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Until(res.ExpiresAt).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, res.Token, maxAge, "/", "", h.cookie.Secure, true)
	response.JSON(c, status, res, nil)
}
