// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"lingua-billing/internal/pkg/jwt"
	"lingua-billing/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	userIDKey   = "user_id"
	emailKey    = "email"
	rolesKey    = "roles"
	jtiKey      = "jti"
	internalKey = "internal"

	InternalKeyHeader = "X-Internal-Key"
)

type AuthMiddleware struct {
	verifier        *jwt.Verifier
	internalKeyHash []byte
}

// NewAuthMiddleware takes the bcrypt hash of the service-to-service key.
func NewAuthMiddleware(verifier *jwt.Verifier, internalKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:        verifier,
		internalKeyHash: []byte(internalKeyHash),
	}
}

// Auth validates the bearer token issued by the main web app.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.authenticate(c) {
			c.Next()
		}
	}
}

// Internal guards service-to-service endpoints with a shared key.
func (m *AuthMiddleware) Internal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.checkInternal(c) {
			c.Next()
		}
	}
}

// RequireRole middleware that requires user to have at least one of the specified roles
// MUST be used after Auth() middleware
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requireRole(c, roles) {
			c.Next()
		}
	}
}

// InternalOrAdmin accepts either the internal key or an admin token.
func (m *AuthMiddleware) InternalOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(InternalKeyHeader) != "" {
			if m.checkInternal(c) {
				c.Next()
			}
			return
		}
		if m.authenticate(c) && requireRole(c, []string{"admin"}) {
			c.Next()
		}
	}
}

func (m *AuthMiddleware) authenticate(c *gin.Context) bool {
	token := extractToken(c)
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
		return false
	}

	claims, err := m.verifier.Verify(token)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "invalid or expired token", nil)
		return false
	}

	c.Set(userIDKey, claims.User())
	c.Set(emailKey, claims.Email)
	c.Set(rolesKey, claims.Roles)
	c.Set(jtiKey, claims.ID)
	return true
}

func (m *AuthMiddleware) checkInternal(c *gin.Context) bool {
	key := c.GetHeader(InternalKeyHeader)
	if key == "" || len(m.internalKeyHash) == 0 {
		response.Error(c, http.StatusUnauthorized, "missing internal key", nil)
		return false
	}
	if err := bcrypt.CompareHashAndPassword(m.internalKeyHash, []byte(key)); err != nil {
		response.Error(c, http.StatusUnauthorized, "invalid internal key", nil)
		return false
	}

	c.Set(internalKey, true)
	return true
}

func requireRole(c *gin.Context, roles []string) bool {
	for _, role := range roles {
		if HasRole(c, role) {
			return true
		}
	}

	err := errors.New("user does not have required role")
	response.Error(c, http.StatusForbidden, "insufficient permissions", err, map[string]interface{}{
		"required_roles": roles,
	})
	return false
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
