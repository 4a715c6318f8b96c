// internal/middleware/helpers.go
package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// MustGetUserID is for handlers mounted behind Auth. Reaching one without a
// user is a routing bug, which RecoveryMiddleware reports as a 500.
func MustGetUserID(c *gin.Context) string {
	userID, ok := GetUserID(c)
	if !ok {
		panic("handler mounted without auth: no user in context")
	}
	return userID
}

func GetEmail(c *gin.Context) string {
	return c.GetString(emailKey)
}

// GetRoles returns the token's roles; internal-key callers have none.
func GetRoles(c *gin.Context) []string {
	return c.GetStringSlice(rolesKey)
}

func HasRole(c *gin.Context, role string) bool {
	return slices.Contains(GetRoles(c), role)
}

// GetRequestID returns the id assigned by LoggingMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// IsInternal reports whether the caller presented the internal key.
func IsInternal(c *gin.Context) bool {
	return c.GetBool(internalKey)
}
