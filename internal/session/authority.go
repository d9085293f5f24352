package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/tabletop/pkg/metrics"
)

// ConnectionStatus is the derived liveness of the leader.
type ConnectionStatus string

const (
	// StatusConnected means the last leader heartbeat is within the timeout.
	StatusConnected ConnectionStatus = "connected"
	// StatusReconnecting means heartbeats lapsed but the grace period has not run out.
	StatusReconnecting ConnectionStatus = "reconnecting"
	// StatusDisconnected means the leader is gone and player actions are queued.
	StatusDisconnected ConnectionStatus = "disconnected"
)

// AuthorityConfig tunes leader liveness tracking and the pending-action queue.
type AuthorityConfig struct {
	HeartbeatThreshold int
	MaxQueueSize       int
	ActionTimeout      time.Duration
	SweepInterval      time.Duration
	GracePeriod        time.Duration
}

// AuthorityStatus is a snapshot of the leader authority state.
type AuthorityStatus struct {
	LeaderID         string           `json:"leader_id"`
	Status           ConnectionStatus `json:"status"`
	Connected        bool             `json:"connected"`
	MissedHeartbeats int              `json:"missed_heartbeats"`
	LastHeartbeatAt  *time.Time       `json:"last_heartbeat_at,omitempty"`
	DisconnectedAt   *time.Time       `json:"disconnected_at,omitempty"`
	ReconnectedAt    *time.Time       `json:"reconnected_at,omitempty"`
	QueuedActions    int              `json:"queued_actions"`
}

// Authority tracks leader liveness and holds actions submitted while the leader is absent.
type Authority struct {
	mu             sync.Mutex
	cfg            AuthorityConfig
	leaderID       string
	connected      bool
	missed         int
	lastHeartbeat  time.Time
	disconnectedAt time.Time
	reconnectedAt  time.Time
	queue          []QueuedAction

	cron    *cron.Cron
	started bool
	timeNow func() time.Time
	newID   func() string
	log     *zap.Logger
}

// AuthorityOption customises the Authority.
type AuthorityOption func(*Authority)

// WithAuthorityClock overrides the clock used for heartbeats and expiry.
func WithAuthorityClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		if now != nil {
			a.timeNow = now
		}
	}
}

// WithAuthorityCron injects the scheduler that runs the expiry sweeper.
func WithAuthorityCron(c *cron.Cron) AuthorityOption {
	return func(a *Authority) {
		if c != nil {
			a.cron = c
		}
	}
}

// WithAuthorityLogger overrides the logger.
func WithAuthorityLogger(log *zap.Logger) AuthorityOption {
	return func(a *Authority) {
		if log != nil {
			a.log = log
		}
	}
}

// WithAuthorityIDGenerator overrides how queued action ids are generated.
func WithAuthorityIDGenerator(fn func() string) AuthorityOption {
	return func(a *Authority) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// NewAuthority constructs an authority for the leader. The leader starts disconnected
// until its first heartbeat.
func NewAuthority(leaderID string, cfg AuthorityConfig, opts ...AuthorityOption) *Authority {
	a := &Authority{
		cfg:      cfg,
		leaderID: leaderID,
		timeNow:  time.Now,
		newID:    uuid.NewString,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cron == nil {
		a.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return a
}

// Start schedules the expired-action sweeper.
func (a *Authority) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}
	if a.cfg.SweepInterval > 0 {
		schedule := fmt.Sprintf("@every %s", a.cfg.SweepInterval)
		if _, err := a.cron.AddFunc(schedule, func() { a.SweepExpired() }); err != nil {
			return fmt.Errorf("authority: schedule sweeper: %w", err)
		}
	}
	a.cron.Start()
	a.started = true
	return nil
}

// Stop halts the sweeper, waiting for a running sweep to finish.
func (a *Authority) Stop() context.Context {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if !started {
		return context.Background()
	}
	return a.cron.Stop()
}

// HandleHeartbeat records a heartbeat from the leader and resets the miss counter. It
// returns true exactly when the leader transitions from disconnected to connected.
func (a *Authority) HandleHeartbeat(leaderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if leaderID != a.leaderID {
		a.log.Warn("ignoring heartbeat from non-leader", zap.String("participant_id", leaderID))
		return false
	}

	now := a.timeNow()
	wasConnected := a.connected
	a.connected = true
	a.missed = 0
	a.lastHeartbeat = now
	if wasConnected {
		return false
	}

	a.reconnectedAt = now
	a.disconnectedAt = time.Time{}
	a.log.Info("leader connected", zap.Int("queued_actions", len(a.queue)))
	return true
}

// HandleMissedHeartbeat records a missed heartbeat. It returns true when the miss count
// reaches the threshold and the leader transitions to disconnected.
func (a *Authority) HandleMissedHeartbeat(leaderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if leaderID != a.leaderID {
		return false
	}

	a.missed++
	if !a.connected || a.missed < a.threshold() {
		return false
	}
	a.markDisconnectedLocked()
	a.log.Warn("leader heartbeat lost", zap.Int("missed_heartbeats", a.missed))
	return true
}

// MarkDisconnected flags the leader as disconnected immediately, as on an explicit leave.
func (a *Authority) MarkDisconnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return false
	}
	a.markDisconnectedLocked()
	return true
}

func (a *Authority) markDisconnectedLocked() {
	a.connected = false
	a.disconnectedAt = a.timeNow()
}

func (a *Authority) threshold() int {
	if a.cfg.HeartbeatThreshold <= 0 {
		return 1
	}
	return a.cfg.HeartbeatThreshold
}

// IsConnected reports whether the leader currently holds authority.
func (a *Authority) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// LastHeartbeat returns when the leader was last heard from.
func (a *Authority) LastHeartbeat() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastHeartbeat
}

// ConnectionStatus derives the leader status from the connected flag and miss counter.
func (a *Authority) ConnectionStatus() ConnectionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Authority) statusLocked() ConnectionStatus {
	switch {
	case !a.connected:
		return StatusDisconnected
	case a.missed > 0:
		return StatusReconnecting
	default:
		return StatusConnected
	}
}

// Status returns a snapshot of the authority state.
func (a *Authority) Status() AuthorityStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AuthorityStatus{
		LeaderID:         a.leaderID,
		Status:           a.statusLocked(),
		Connected:        a.connected,
		MissedHeartbeats: a.missed,
		LastHeartbeatAt:  timePtr(a.lastHeartbeat),
		DisconnectedAt:   timePtr(a.disconnectedAt),
		ReconnectedAt:    timePtr(a.reconnectedAt),
		QueuedActions:    len(a.queue),
	}
}

// Enqueue captures an action for later replay. It returns false when the queue is full
// even after evicting expired entries.
func (a *Authority) Enqueue(req ActionRequest, participantID string) (QueuedAction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.timeNow()
	if a.cfg.MaxQueueSize > 0 && len(a.queue) >= a.cfg.MaxQueueSize {
		a.sweepLocked(now)
		if len(a.queue) >= a.cfg.MaxQueueSize {
			return QueuedAction{}, false
		}
	}

	queued := QueuedAction{
		ID:            a.newID(),
		ParticipantID: participantID,
		ActionType:    req.Type,
		PluginID:      req.PluginID,
		Request:       req.Clone(),
		EnqueuedAt:    now,
		ExpiresAt:     now.Add(a.cfg.ActionTimeout),
	}
	a.queue = append(a.queue, queued)
	metrics.ActionQueueDepth.Inc()
	return queued.Clone(), true
}

// DrainForReplay returns a copy of the queue in FIFO order without removing anything.
func (a *Authority) DrainForReplay() []QueuedAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]QueuedAction, len(a.queue))
	for i, queued := range a.queue {
		out[i] = queued.Clone()
	}
	return out
}

// Acknowledge removes the queued actions with the supplied ids and returns how many
// were removed.
func (a *Authority) Acknowledge(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.queue[:0]
	removed := 0
	for _, queued := range a.queue {
		if _, ok := drop[queued.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, queued)
	}
	a.queue = kept
	metrics.ActionQueueDepth.Sub(float64(removed))
	return removed
}

// Clear empties the queue.
func (a *Authority) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics.ActionQueueDepth.Sub(float64(len(a.queue)))
	a.queue = nil
}

// Len returns the number of queued actions.
func (a *Authority) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// SweepExpired evicts queued actions past their expiry and returns how many were evicted.
func (a *Authority) SweepExpired() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sweepLocked(a.timeNow())
}

func (a *Authority) sweepLocked(now time.Time) int {
	kept := a.queue[:0]
	evicted := 0
	for _, queued := range a.queue {
		if queued.Expired(now) {
			evicted++
			continue
		}
		kept = append(kept, queued)
	}
	a.queue = kept
	if evicted > 0 {
		metrics.ActionQueueDepth.Sub(float64(evicted))
		metrics.QueuedActionsEvicted.Add(float64(evicted))
		a.log.Info("evicted expired queued actions", zap.Int("count", evicted), zap.Int("remaining", len(kept)))
	}
	return evicted
}

// IsGracePeriodExpired reports whether the leader has been disconnected for longer than
// the grace period. A leader that never disconnected is not expired.
func (a *Authority) IsGracePeriodExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected || a.disconnectedAt.IsZero() {
		return false
	}
	return a.timeNow().Sub(a.disconnectedAt) > a.cfg.GracePeriod
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
