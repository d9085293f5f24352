package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tabletop/internal/session"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, []string{"https://table.example.com", "https://play.example.com"}, cfg.Server.AllowedOrigins)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, 3306, cfg.Database.MySQL.Port)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)

	require.Equal(t, 6, cfg.Session.MaxParticipants)
	require.False(t, cfg.Session.BroadcastEnabled)
	require.Equal(t, 2*time.Second, cfg.Session.HeartbeatInterval)
	require.Equal(t, 4, cfg.Session.HeartbeatThreshold)
	require.Equal(t, 50, cfg.Session.MaxQueueSize)
	require.Equal(t, 2*time.Minute, cfg.Session.ActionTimeout)
	require.Equal(t, 15*time.Second, cfg.Session.SweepInterval)
	require.Equal(t, 45*time.Second, cfg.Session.GracePeriod)

	require.Equal(t, "@every 1m", cfg.Maintenance.ReapSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.JournalSchedule)
	require.Equal(t, 7, cfg.Maintenance.JournalRetentionDays)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "json", cfg.Server.LogFormat)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/tabletop.sqlite", cfg.Database.Path)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, session.DefaultConfig(), cfg.Session.SessionConfig())
	require.Equal(t, "@every 30s", cfg.Maintenance.ReapSchedule)
	require.Equal(t, 30, cfg.Maintenance.JournalRetentionDays)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TABLETOP_SERVER_PORT", "7000")
	t.Setenv("TABLETOP_SESSION_GRACE_PERIOD", "2m")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, 2*time.Minute, cfg.Session.GracePeriod)
}

func TestSessionConfigAdapter(t *testing.T) {
	settings := SessionSettings{
		MaxParticipants:    4,
		BroadcastEnabled:   true,
		HeartbeatInterval:  time.Second,
		HeartbeatThreshold: 2,
		MaxQueueSize:       10,
		ActionTimeout:      time.Minute,
		SweepInterval:      10 * time.Second,
		GracePeriod:        time.Minute,
	}

	require.Equal(t, session.Config{
		MaxParticipants:    4,
		BroadcastEnabled:   true,
		HeartbeatInterval:  time.Second,
		HeartbeatThreshold: 2,
		MaxQueueSize:       10,
		ActionTimeout:      time.Minute,
		SweepInterval:      10 * time.Second,
		GracePeriod:        time.Minute,
	}, settings.SessionConfig())
}

func TestSessionConfigAdapterFallback(t *testing.T) {
	cfg := SessionSettings{MaxQueueSize: -1}.SessionConfig()

	require.Equal(t, session.DefaultMaxParticipants, cfg.MaxParticipants)
	require.Equal(t, session.DefaultMaxQueueSize, cfg.MaxQueueSize)
	require.Equal(t, session.DefaultGracePeriod, cfg.GracePeriod)
	require.False(t, cfg.BroadcastEnabled)
}
