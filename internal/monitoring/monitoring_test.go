package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tabletop/internal/database/testutil"
	"github.com/charlesng35/tabletop/internal/monitoring"
	"github.com/charlesng35/tabletop/internal/monitoring/checks"
)

type fakeSessions []string

func (f fakeSessions) List() []string { return f }

type fakeConnections int

func (f fakeConnections) ActiveConnections() int { return int(f) }

func check(name string, kind monitoring.Kind, status monitoring.Status) monitoring.Check {
	return monitoring.Check{Name: name, Kind: kind, Run: func(context.Context) monitoring.ComponentStatus {
		return monitoring.ComponentStatus{Status: status}
	}}
}

func TestRegistryEvaluatesByKind(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := start
	registry := monitoring.NewRegistry(monitoring.WithClock(func() time.Time { return now }))
	registry.MustRegister(check("database", monitoring.KindReadiness, monitoring.StatusUp))
	registry.MustRegister(check("journal", monitoring.KindReadiness, monitoring.StatusDown))
	registry.MustRegister(check("sessions", monitoring.KindLiveness, monitoring.StatusUp))
	now = start.Add(90 * time.Second)

	ready := registry.Readiness(context.Background())
	require.False(t, ready.Healthy())
	require.Equal(t, monitoring.StatusDown, ready.Status)
	require.Equal(t, monitoring.KindReadiness, ready.Kind)
	require.Len(t, ready.Components, 2)
	require.Equal(t, "database", ready.Components[0].Component)
	require.Equal(t, "journal", ready.Components[1].Component)
	require.Equal(t, int64(90), ready.UptimeSeconds)
	require.Equal(t, now, ready.CheckedAt)

	live := registry.Liveness(context.Background())
	require.True(t, live.Healthy())
	require.Len(t, live.Components, 1)
}

func TestRegistryRejectsInvalidChecks(t *testing.T) {
	t.Parallel()

	registry := monitoring.NewRegistry()
	require.Error(t, registry.Register(monitoring.Check{Kind: monitoring.KindLiveness, Run: check("x", "", "").Run}))
	require.Error(t, registry.Register(monitoring.Check{Name: "x", Kind: "startup", Run: check("x", "", "").Run}))
	require.Error(t, registry.Register(monitoring.Check{Name: "x", Kind: monitoring.KindLiveness}))

	require.NoError(t, registry.Register(check("sessions", monitoring.KindLiveness, monitoring.StatusUp)))
	require.Error(t, registry.Register(check(" sessions ", monitoring.KindLiveness, monitoring.StatusUp)))
	require.NoError(t, registry.Register(check("sessions", monitoring.KindReadiness, monitoring.StatusUp)))
	require.Panics(t, func() { registry.MustRegister(check("sessions", monitoring.KindReadiness, monitoring.StatusUp)) })
}

func TestOptionalCheckDegradesReport(t *testing.T) {
	t.Parallel()

	registry := monitoring.NewRegistry()
	registry.MustRegister(check("database", monitoring.KindReadiness, monitoring.StatusUp))
	journal := check("journal", monitoring.KindReadiness, monitoring.StatusDown)
	journal.Optional = true
	registry.MustRegister(journal)

	report := registry.Readiness(context.Background())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.False(t, report.Healthy())
	component, ok := report.Component("journal")
	require.True(t, ok)
	require.True(t, component.Optional)
	require.Equal(t, monitoring.StatusDown, component.Status)
}

func TestRegistryRecoversPanicsAndTimeouts(t *testing.T) {
	t.Parallel()

	registry := monitoring.NewRegistry()
	registry.MustRegister(monitoring.Check{Name: "flaky", Kind: monitoring.KindLiveness, Run: func(context.Context) monitoring.ComponentStatus {
		panic("check exploded")
	}})
	registry.MustRegister(monitoring.Check{Name: "slow", Kind: monitoring.KindReadiness, Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) monitoring.ComponentStatus {
			<-ctx.Done()
			return monitoring.ComponentStatus{Status: monitoring.StatusUp}
		}})

	live := registry.Liveness(context.Background())
	require.Equal(t, monitoring.StatusDown, live.Status)
	require.Equal(t, "check exploded", live.Components[0].Message)
	require.Equal(t, "flaky", live.Components[0].Component)

	ready := registry.Readiness(context.Background())
	require.Equal(t, monitoring.StatusDegraded, ready.Status)
	require.Contains(t, ready.Components[0].Message, "check exceeded")
}

func TestFromError(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.FromError(nil).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.FromError(context.DeadlineExceeded).Status)

	down := monitoring.FromError(errors.New("boom"))
	require.Equal(t, monitoring.StatusDown, down.Status)
	require.Equal(t, "boom", down.Message)
}

func TestDatabaseCheckReportsPool(t *testing.T) {
	t.Parallel()

	db := testutil.MustOpenTestDB(t)
	registry := monitoring.NewRegistry()
	registry.MustRegister(checks.Database(db))

	report := registry.Readiness(context.Background())
	require.True(t, report.Healthy())
	component, ok := report.Component("database")
	require.True(t, ok)
	require.Equal(t, "sqlite", component.Message)
	require.Equal(t, 1, component.Metrics["max_open"])
	require.Zero(t, component.Metrics["in_use"])

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	closed := checks.Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, closed.Status)

	missing := checks.Database(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, missing.Status)
}

func TestSessionsCheck(t *testing.T) {
	t.Parallel()

	result := checks.Sessions(fakeSessions{"a", "b"}, fakeConnections(5)).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "2 live sessions, 5 connections", result.Message)
	require.Equal(t, map[string]int{"sessions": 2, "connections": 5}, result.Metrics)

	degraded := checks.Sessions(nil, fakeConnections(0)).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, degraded.Status)
}
