package middleware

import (
	"errors"
	"net/http"
	"strings"

	"GraderUsageETL/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// AdminKey is the gin context key holding the authenticated admin's name.
const AdminKey = "username"

var (
	errNoCredentials = errors.New("Authorization header required")
	errBadScheme     = errors.New("Invalid authorization header format")
)

// AuthMiddleware guards the run and warehouse endpoints. Requests must carry
// a bearer token issued by POST /login.
func AuthMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := issuer.ValidateToken(token)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired, log in again"})
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		default:
			c.Set(AdminKey, claims.Username)
			c.Next()
		}
	}
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// Admin returns the name stored by AuthMiddleware.
func Admin(c *gin.Context) string {
	return c.GetString(AdminKey)
}
