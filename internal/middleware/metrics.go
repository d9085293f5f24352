package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tabletop/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency by route template. Websocket upgrades hold the
// request open for the whole connection, so they are counted instead of timed.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		upgrade := isWebsocketUpgrade(c)
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		if upgrade {
			metrics.WebsocketUpgrades.WithLabelValues(status).Inc()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func isWebsocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")
}
