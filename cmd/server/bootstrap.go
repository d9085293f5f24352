package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/api"
	"github.com/charlesng35/tabletop/internal/app"
	"github.com/charlesng35/tabletop/internal/app/maintenance"
	"github.com/charlesng35/tabletop/internal/database"
	"github.com/charlesng35/tabletop/internal/realtime"
	"github.com/charlesng35/tabletop/internal/rules"
	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
	"github.com/charlesng35/tabletop/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Store   *services.EntityStore
	Journal *services.EventJournal
	Hub     *realtime.Hub
	Manager *session.Manager
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, the session manager, background jobs and
// the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = services.NewEntityStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise entity store: %w", err)
	}

	stack.Journal, err = services.NewEventJournal(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise event journal: %w", err)
	}

	registry := session.NewRules()
	if err := registry.RegisterPlugin(rules.NewCore()); err != nil {
		return nil, fmt.Errorf("register core rules: %w", err)
	}

	stack.Hub = realtime.NewHub(realtime.WithAllowedOrigins(cfg.Server.AllowedOrigins))

	sink := session.MultiSink{
		stack.Journal,
		services.NewEncounterArchiver(stack.Store),
		session.LogSink{Log: logger.WithModule("events")},
	}
	stack.Manager, err = session.NewManager(registry, stack.Store, cfg.Session.SessionConfig(),
		session.WithManagerTransport(realtime.NewTransport(stack.Hub)),
		session.WithManagerEventSink(sink),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Manager, stack.Journal,
		maintenance.WithReapSchedule(cfg.Maintenance.ReapSchedule),
		maintenance.WithJournalSchedule(cfg.Maintenance.JournalSchedule),
		maintenance.WithJournalRetentionDays(cfg.Maintenance.JournalRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:      stack.DB,
		Manager: stack.Manager,
		Hub:     stack.Hub,
		Journal: stack.Journal,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, ends every live session and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Manager != nil {
		ids := s.Manager.List()
		closed := s.Manager.CloseAll()
		if s.Hub != nil {
			for _, id := range ids {
				s.Hub.CloseSession(id)
			}
		}
		log.Info("live sessions closed", zap.Int("count", closed))
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		applyHostConfig(&dbCfg, cfg.Database.Postgres)
	case "mysql":
		applyHostConfig(&dbCfg, cfg.Database.MySQL)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func applyHostConfig(dbCfg *database.Config, host app.DBAuthConfig) {
	dbCfg.Host = strings.TrimSpace(host.Host)
	dbCfg.Port = host.Port
	dbCfg.Name = strings.TrimSpace(host.Database)
	dbCfg.User = strings.TrimSpace(host.Username)
	dbCfg.Password = strings.TrimSpace(host.Password)
}
