package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/app"
	"github.com/charlesng35/tabletop/internal/handlers"
	"github.com/charlesng35/tabletop/internal/middleware"
	"github.com/charlesng35/tabletop/internal/monitoring"
	"github.com/charlesng35/tabletop/internal/monitoring/checks"
	"github.com/charlesng35/tabletop/internal/realtime"
	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
)

// Dependencies are the components the HTTP surface is built on. DB, Journal and Health
// are optional.
type Dependencies struct {
	DB      *gorm.DB
	Manager *session.Manager
	Hub     *realtime.Hub
	Journal *services.EventJournal
	Health  *monitoring.Registry
}

// NewRouter builds the Gin engine, wires middleware and registers the session routes.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}

	r := gin.New()

	quiet := []string{"/health", "/health/live", "/health/ready"}
	if cfg.Monitoring.Prometheus.Enabled {
		quiet = append(quiet, metricsPath(cfg))
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(quiet...))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	registerHealthRoutes(r, cfg, healthRegistry(deps))
	registerMetricsRoutes(r, cfg)

	gateway := handlers.NewSessionGateway(deps.Manager, deps.Hub)
	sessions := handlers.NewSessionsHandler(deps.Manager, deps.Journal, deps.Hub)

	r.GET("/ws/sessions/:sessionID", gateway.Connect)
	registerSessionRoutes(r.Group("/api"), sessions)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func healthRegistry(deps Dependencies) *monitoring.Registry {
	if deps.Health != nil {
		return deps.Health
	}
	registry := monitoring.NewRegistry()
	registry.MustRegister(checks.Sessions(deps.Manager, deps.Hub))
	if deps.DB != nil {
		registry.MustRegister(checks.Database(deps.DB))
	}
	return registry
}

func metricsPath(cfg *app.Config) string {
	path := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if path == "" {
		return "/metrics"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
