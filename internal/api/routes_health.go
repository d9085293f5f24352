package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tabletop/internal/app"
	"github.com/charlesng35/tabletop/internal/handlers"
	"github.com/charlesng35/tabletop/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, registry *monitoring.Registry) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.DisabledHealth)
		r.GET("/health/live", handlers.DisabledHealth)
		r.GET("/health/ready", handlers.DisabledHealth)
		return
	}

	handler := handlers.NewHealthHandler(registry)
	r.GET("/health", handler.Health)
	r.GET("/health/live", handler.Live)
	r.GET("/health/ready", handler.Ready)
}
