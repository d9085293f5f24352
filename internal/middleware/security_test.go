package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func serveWithSecurity(t *testing.T, opts ...SecurityOption) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(SecurityHeaders(opts...))
	r.GET("/api/sessions", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Header()
}

func TestSecurityHeadersDefaults(t *testing.T) {
	headers := serveWithSecurity(t)

	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, DefaultContentSecurityPolicy, headers.Get("Content-Security-Policy"))
	require.Equal(t, "no-referrer", headers.Get("Referrer-Policy"))
	require.Equal(t, "no-store", headers.Get("Cache-Control"))
}

func TestSecurityHeadersPolicyOverride(t *testing.T) {
	headers := serveWithSecurity(t, WithContentSecurityPolicy("default-src 'none'"))
	require.Equal(t, "default-src 'none'", headers.Get("Content-Security-Policy"))

	headers = serveWithSecurity(t, WithContentSecurityPolicy(""), nil)
	require.Empty(t, headers.Get("Content-Security-Policy"))
	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
}
