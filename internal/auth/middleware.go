package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"itendance/internal/roster"
)

const userKey = "user"

// RequireAuth enforces bearer JWT tokens signed with HS256 and stashes the
// acting user in the request context.
func RequireAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userKey, claims.User())
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by RequireAuth.
func CurrentUser(c *gin.Context) (roster.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return roster.User{}, false
	}
	user, ok := v.(roster.User)
	return user, ok
}
