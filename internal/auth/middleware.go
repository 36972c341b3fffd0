package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// Authenticate enforces bearer JWT tokens signed with HS256.
func Authenticate(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets through only callers holding one of roles. It must run
// after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "not authenticated")
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "forbidden", "insufficient role")
	}
}

// ClaimsFrom returns the claims set by Authenticate.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": kind, "message": msg})
}
