package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"oobind/internal/auth"
	"oobind/internal/protoerr"
)

const (
	operatorContextKey = "operator"
	claimsContextKey   = "admin_claims"
)

func OperatorFromContext(c *gin.Context) (string, bool) {
	operator, ok := c.Get(operatorContextKey)
	if !ok {
		return "", false
	}
	value, ok := operator.(string)
	return value, ok && value != ""
}

// RequireAdmin admits requests carrying a valid admin bearer token.
func RequireAdmin(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": protoerr.CodeUnauthorized})
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": protoerr.CodeUnauthorized})
			return
		}

		c.Set(operatorContextKey, claims.Operator)
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireScope admits admin requests whose token grants scope. It runs
// after RequireAdmin.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(claimsContextKey)
		claims, ok := v.(*auth.Claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": protoerr.CodeUnauthorized})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": protoerr.CodeForbidden, "detail": "token lacks scope " + scope})
			return
		}
		c.Next()
	}
}
