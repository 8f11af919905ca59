package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"virtual-office/internal/auth"
)

// RequireIdentity rejects requests that reached the handler chain without a
// verified agent identity.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.IdentityFrom(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity required"})
			return
		}
		c.Next()
	}
}

// RequireViewAll allows callers whose profile grants visibility over every
// agent's leads. Admins always pass.
func RequireViewAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity required"})
			return
		}
		if !id.CanViewAll && !IsAdmin(id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
