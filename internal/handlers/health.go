package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tabletop/internal/monitoring"
)

// HealthHandler serves liveness and readiness reports.
type HealthHandler struct {
	registry *monitoring.Registry
}

// NewHealthHandler constructs the handler. A nil registry reports every kind as up.
func NewHealthHandler(registry *monitoring.Registry) *HealthHandler {
	if registry == nil {
		registry = monitoring.NewRegistry()
	}
	return &HealthHandler{registry: registry}
}

// Health returns the readiness status without per-component detail.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.registry.Readiness(requestContext(c))
	c.JSON(statusFor(report), gin.H{
		"success":        report.Healthy(),
		"status":         report.Status,
		"checked_at":     report.CheckedAt,
		"uptime_seconds": report.UptimeSeconds,
	})
}

// Live runs the liveness checks.
func (h *HealthHandler) Live(c *gin.Context) {
	writeHealthReport(c, h.registry.Liveness(requestContext(c)))
}

// Ready runs the readiness checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	writeHealthReport(c, h.registry.Readiness(requestContext(c)))
}

// DisabledHealth answers health routes when checks are switched off.
func DisabledHealth(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}

func writeHealthReport(c *gin.Context, report monitoring.Report) {
	c.JSON(statusFor(report), gin.H{
		"success": report.Healthy(),
		"report":  report,
	})
}

func statusFor(report monitoring.Report) int {
	if report.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
