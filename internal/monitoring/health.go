// Package monitoring evaluates the liveness of the session runtime and the readiness of
// the stores behind it.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a component check or a whole report.
type Status string

const (
	// StatusUp means the component answered within its timeout.
	StatusUp Status = "up"
	// StatusDegraded means the component is slow, saturated or only partly wired.
	StatusDegraded Status = "degraded"
	// StatusDown means the component failed.
	StatusDown Status = "down"
)

// Kind selects which report a check contributes to.
type Kind string

const (
	// KindLiveness checks the in-memory session runtime.
	KindLiveness Kind = "liveness"
	// KindReadiness checks the stores a session needs to open.
	KindReadiness Kind = "readiness"
)

const defaultCheckTimeout = 2 * time.Second

// ComponentStatus is the result of one check.
type ComponentStatus struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Metrics   map[string]int `json:"metrics,omitempty"`
	Optional  bool           `json:"optional,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
}

// Report aggregates the checks of one kind.
type Report struct {
	Kind          Kind              `json:"kind"`
	Status        Status            `json:"status"`
	CheckedAt     time.Time         `json:"checked_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    []ComponentStatus `json:"components"`
}

// Healthy reports whether every required component is up.
func (r Report) Healthy() bool {
	return r.Status == StatusUp
}

// Component looks up a component result by name.
func (r Report) Component(name string) (ComponentStatus, bool) {
	for _, c := range r.Components {
		if c.Component == name {
			return c, true
		}
	}
	return ComponentStatus{}, false
}

// CheckFunc inspects one component. The context carries the check timeout.
type CheckFunc func(ctx context.Context) ComponentStatus

// Check describes a registered component check. A failing optional check degrades the
// report instead of taking it down.
type Check struct {
	Name     string
	Kind     Kind
	Optional bool
	Timeout  time.Duration
	Run      CheckFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for reports and uptime.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds the checks and evaluates them concurrently.
type Registry struct {
	mu      sync.RWMutex
	checks  []Check
	now     func() time.Time
	started time.Time
}

// NewRegistry constructs an empty registry whose uptime starts now.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// Register adds a check. Names are unique per kind.
func (r *Registry) Register(check Check) error {
	check.Name = strings.TrimSpace(check.Name)
	switch {
	case check.Name == "":
		return errors.New("check name is required")
	case check.Kind != KindLiveness && check.Kind != KindReadiness:
		return fmt.Errorf("check %s: unknown kind %q", check.Name, check.Kind)
	case check.Run == nil:
		return fmt.Errorf("check %s: run function is required", check.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.checks {
		if existing.Kind == check.Kind && existing.Name == check.Name {
			return fmt.Errorf("%s check %s already registered", check.Kind, check.Name)
		}
	}
	r.checks = append(r.checks, check)
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (r *Registry) MustRegister(check Check) {
	if err := r.Register(check); err != nil {
		panic(err)
	}
}

// Liveness evaluates the liveness checks.
func (r *Registry) Liveness(ctx context.Context) Report {
	return r.Evaluate(ctx, KindLiveness)
}

// Readiness evaluates the readiness checks.
func (r *Registry) Readiness(ctx context.Context) Report {
	return r.Evaluate(ctx, KindReadiness)
}

// Evaluate runs every check of kind in parallel. Components keep registration order.
func (r *Registry) Evaluate(ctx context.Context, kind Kind) Report {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	var checks []Check
	for _, check := range r.checks {
		if check.Kind == kind {
			checks = append(checks, check)
		}
	}
	r.mu.RUnlock()

	components := make([]ComponentStatus, len(checks))
	var group errgroup.Group
	for i, check := range checks {
		group.Go(func() error {
			components[i] = runCheck(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	checkedAt := r.now().UTC()
	return Report{
		Kind:          kind,
		Status:        aggregate(components),
		CheckedAt:     checkedAt,
		UptimeSeconds: int64(checkedAt.Sub(r.started.UTC()) / time.Second),
		Components:    components,
	}
}

func aggregate(components []ComponentStatus) Status {
	status := StatusUp
	for _, c := range components {
		switch {
		case c.Status == StatusDown && !c.Optional:
			return StatusDown
		case c.Status != StatusUp:
			status = StatusDegraded
		}
	}
	return status
}

func runCheck(ctx context.Context, check Check) (result ComponentStatus) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ComponentStatus{Status: StatusDown, Message: fmt.Sprint(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if checkCtx.Err() != nil && result.Status == StatusUp {
			result.Status = StatusDegraded
			result.Message = "check exceeded " + timeout.String()
		}
		result.Component = check.Name
		result.Optional = check.Optional
		result.LatencyMS = time.Since(start).Milliseconds()
	}()

	return check.Run(checkCtx)
}

// FromError maps a check error to a status. Timeouts and cancellations degrade rather
// than fail the component.
func FromError(err error) ComponentStatus {
	if err == nil {
		return ComponentStatus{Status: StatusUp}
	}
	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ComponentStatus{Status: status, Message: err.Error()}
}
