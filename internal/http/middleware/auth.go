// README: Auth middleware; resolves the caller from a bearer session token or the internal service token.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/infra"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"

	// RoleInternal marks trusted service-to-service callers.
	RoleInternal = "internal"

	InternalTokenHeader = "X-Internal-Token"
)

// Auth rejects requests without a valid bearer token. A request carrying the configured internal
// token is accepted as RoleInternal; internalToken == "" disables that path.
func Auth(verifier infra.TokenVerifier, internalToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if internalToken != "" {
			got := c.GetHeader(InternalTokenHeader)
			if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(internalToken)) == 1 {
				c.Set(ctxUID, "")
				c.Set(ctxRole, RoleInternal)
				c.Next()
				return
			}
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, tok.UID)
		c.Set(ctxRole, tok.Role)
		c.Next()
	}
}

// RequireRole lets through callers whose role is one of roles. Internal callers always pass.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		if role == RoleInternal {
			c.Next()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// Privileged reports whether the caller may act on behalf of other users.
func Privileged(c *gin.Context) bool {
	role := CallerRole(c)
	return role == "admin" || role == RoleInternal
}
