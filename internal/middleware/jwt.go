package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated user.
const ContextUserKey = "currentUser"

// SessionCookie is the cookie carrying the session token for browsers.
const SessionCookie = "jwt"

// LoggedOutValue replaces the session cookie on logout.
const LoggedOutValue = "loggedout"

// Authenticator resolves session tokens into users.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// Protect requires a valid session token from the Authorization header or
// the session cookie. A user already resolved by IsLoggedIn is reused.
func Protect(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); ok {
			c.Next()
			return
		}
		token := sessionToken(c)
		if token == "" {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "you are not logged in, please log in to get access"))
			return
		}

		user, err := auth.Verify(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// IsLoggedIn attaches the user when a valid token is present but never blocks.
func IsLoggedIn(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := sessionToken(c); token != "" {
			if user, err := auth.Verify(c.Request.Context(), token); err == nil {
				c.Set(ContextUserKey, user)
			}
		}
		c.Next()
	}
}

// CurrentUser returns the user attached by Protect or IsLoggedIn.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok && user != nil
}

func sessionToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != LoggedOutValue {
		return cookie
	}
	return ""
}
