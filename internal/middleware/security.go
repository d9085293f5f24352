package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy allows same-origin resources and websocket
// connections back to the server.
const DefaultContentSecurityPolicy = "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

// SecurityOption adjusts the headers written by SecurityHeaders.
type SecurityOption func(headers map[string]string)

// WithContentSecurityPolicy replaces the default policy. An empty policy omits the header.
func WithContentSecurityPolicy(policy string) SecurityOption {
	return func(headers map[string]string) {
		if policy == "" {
			delete(headers, "Content-Security-Policy")
			return
		}
		headers["Content-Security-Policy"] = policy
	}
}

// SecurityHeaders hardens API responses. Session state is per user, so nothing is cacheable.
func SecurityHeaders(opts ...SecurityOption) gin.HandlerFunc {
	headers := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": DefaultContentSecurityPolicy,
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(headers)
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for key, value := range headers {
			h.Set(key, value)
		}
		c.Next()
	}
}
