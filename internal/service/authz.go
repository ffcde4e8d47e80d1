package service

import (
	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

// RequireRole allows user when their role is one of allowed.
func RequireRole(user *models.User, allowed ...models.UserRole) error {
	if user == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "you are not logged in, please log in to get access")
	}
	if !user.HasRole(allowed...) {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return nil
}
