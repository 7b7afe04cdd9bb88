package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"civicreport/services"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// bearerToken extracts the token from "Bearer <token>". A bare token is
// accepted as well.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// CurrentCaller returns the caller set by one of the auth middlewares, or
// nil for anonymous requests.
func CurrentCaller(c *gin.Context) *services.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*services.Caller)
	return caller
}

// OptionalAuth attaches the token's caller when a valid token is present and
// otherwise lets the request through anonymously. The token payload is trusted
// as-is, so it is only suitable for read-only routes.
func OptionalAuth(auth *services.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if caller, err := auth.Authenticate(token); err == nil {
				c.Set(callerKey, caller)
			}
		}
		c.Next()
	}
}

// RequireUser rejects requests without a valid token, then re-reads the
// user so that role changes and removed accounts take effect immediately.
func RequireUser(auth *services.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := auth.Authenticate(bearerToken(c))
		if err != nil {
			abort(c, err)
			return
		}

		caller, err = auth.Verify(c.Request.Context(), caller)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, services.ErrAuth) {
		status = http.StatusUnauthorized
	}
	c.AbortWithStatusJSON(status, gin.H{"message": services.Message(err)})
}
