package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/service"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// RestrictTo allows the request through only for the listed roles. It must
// run after Protect.
func RestrictTo(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := CurrentUser(c)
		if err := service.RequireRole(user, roles...); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}
