package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/tabletop/internal/monitoring"
)

// SessionLister exposes the live session ids.
type SessionLister interface {
	List() []string
}

// ConnectionCounter exposes the number of open realtime connections.
type ConnectionCounter interface {
	ActiveConnections() int
}

// Sessions is a liveness check reporting the live session and connection counts. It is
// degraded when either dependency is missing.
func Sessions(sessions SessionLister, connections ConnectionCounter) monitoring.Check {
	return monitoring.Check{
		Name: "sessions",
		Kind: monitoring.KindLiveness,
		Run: func(context.Context) monitoring.ComponentStatus {
			switch {
			case sessions == nil:
				return monitoring.ComponentStatus{Status: monitoring.StatusDegraded, Message: "session manager unavailable"}
			case connections == nil:
				return monitoring.ComponentStatus{Status: monitoring.StatusDegraded, Message: "realtime hub unavailable"}
			}
			live, open := len(sessions.List()), connections.ActiveConnections()
			return monitoring.ComponentStatus{
				Status:  monitoring.StatusUp,
				Message: fmt.Sprintf("%d live sessions, %d connections", live, open),
				Metrics: map[string]int{"sessions": live, "connections": open},
			}
		},
	}
}
