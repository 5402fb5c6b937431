package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"GraderUsageETL/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(t *testing.T, issuer *auth.Issuer) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.GET("/p", AuthMiddleware(issuer), func(c *gin.Context) {
		c.String(http.StatusOK, Admin(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	issuer, err := auth.NewIssuer("secret", time.Hour)
	require.NoError(t, err)
	valid, err := issuer.GenerateToken("admin")
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"missing header", "", http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Invalid authorization header format"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "Invalid authorization header format"},
		{"garbage token", "Bearer abc", http.StatusUnauthorized, "Invalid token"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, "Token has expired"},
		{"valid token", "Bearer " + valid, http.StatusOK, "admin"},
		{"lower-case scheme", "bearer " + valid, http.StatusOK, "admin"},
	}

	r := protectedRouter(t, issuer)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, errNoCredentials)
	_, err = BearerToken("Token abc")
	assert.ErrorIs(t, err, errBadScheme)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 2))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), RateLimitMiddleware(0, 0))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
