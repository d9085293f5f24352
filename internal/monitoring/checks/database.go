package checks

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/monitoring"
)

// Database is a readiness check that pings the campaign store and reports pool usage.
// A pool with every connection busy and callers waiting is degraded.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.Check{
		Name: "database",
		Kind: monitoring.KindReadiness,
		Run: func(ctx context.Context) monitoring.ComponentStatus {
			if db == nil {
				return monitoring.ComponentStatus{Status: monitoring.StatusDown, Message: "database not configured"}
			}
			sqlDB, err := db.DB()
			if err != nil {
				return monitoring.FromError(err)
			}

			result := monitoring.FromError(sqlDB.PingContext(ctx))
			stats := sqlDB.Stats()
			result.Metrics = map[string]int{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"max_open":         stats.MaxOpenConnections,
				"wait_count":       int(stats.WaitCount),
			}
			if result.Status != monitoring.StatusUp {
				return result
			}

			result.Message = db.Dialector.Name()
			if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections && stats.WaitCount > 0 {
				result.Status = monitoring.StatusDegraded
				result.Message = fmt.Sprintf("%s pool exhausted: %d of %d in use", db.Dialector.Name(), stats.InUse, stats.MaxOpenConnections)
			}
			return result
		},
	}
}
