package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/logger"
	"github.com/charlesng35/tabletop/pkg/metrics"
)

// Manager owns the live sessions of the process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rules     *Rules
	loader    EntityLoader
	cfg       Config
	transport Transport
	events    EventSink
	timeNow   func() time.Time
	log       *zap.Logger
}

// ManagerOption customises the Manager.
type ManagerOption func(*Manager)

// WithManagerTransport sets the transport handed to every opened session.
func WithManagerTransport(t Transport) ManagerOption {
	return func(m *Manager) {
		m.transport = t
	}
}

// WithManagerEventSink sets the event sink handed to every opened session.
func WithManagerEventSink(sink EventSink) ManagerOption {
	return func(m *Manager) {
		m.events = sink
	}
}

// WithManagerClock overrides the clock handed to every opened session.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.timeNow = now
		}
	}
}

// NewManager constructs a manager opening sessions with the supplied rules and loader.
func NewManager(rules *Rules, loader EntityLoader, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if rules == nil {
		return nil, errors.New("session manager: rules registry is required")
	}
	if loader == nil {
		return nil, errors.New("session manager: entity loader is required")
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		rules:    rules,
		loader:   loader,
		cfg:      cfg,
		timeNow:  time.Now,
		log:      logger.WithModule("session.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open returns the live session with the id, loading and starting it from the campaign
// when it is not open yet.
func (m *Manager) Open(ctx context.Context, sessionID, campaignID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	campaignID = strings.TrimSpace(campaignID)
	if sessionID == "" {
		return nil, apperrors.ErrInvalidParameters.WithMessage("session id is required")
	}
	if existing, ok := m.Get(sessionID); ok {
		return existing, nil
	}
	if campaignID == "" {
		return nil, apperrors.ErrInvalidParameters.WithMessage("campaign id is required to open a session")
	}

	initial, err := m.loadInitialState(ctx, sessionID, campaignID)
	if err != nil {
		return nil, err
	}
	sess, err := New(initial, m.rules, m.cfg,
		WithTransport(m.transport),
		WithEventSink(m.events),
		WithLoader(m.loader),
		WithClock(m.timeNow),
	)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if err := sess.Start(); err != nil {
		m.mu.Unlock()
		sess.Dispose()
		return nil, err
	}
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.log.Info("session opened",
		zap.String("session_id", sessionID),
		zap.String("campaign_id", campaignID),
		zap.Int("characters", len(initial.Characters)),
	)
	return sess, nil
}

func (m *Manager) loadInitialState(ctx context.Context, sessionID, campaignID string) (SessionState, error) {
	campaign, err := m.loader.LoadCampaign(ctx, campaignID)
	if err != nil {
		return SessionState{}, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	characters, err := m.loader.ListCharacters(ctx, campaignID)
	if err != nil {
		return SessionState{}, fmt.Errorf("list characters for campaign %s: %w", campaignID, err)
	}

	initial := SessionState{
		SessionID:  sessionID,
		CampaignID: campaign.ID,
		LeaderID:   campaign.LeaderID,
		Characters: characters,
		Settings:   DefaultSettings(),
	}
	if campaign.Settings != nil {
		initial.Settings = *campaign.Settings
	}
	if campaign.ActiveMapID != "" {
		active, err := m.loader.LoadMap(ctx, campaign.ActiveMapID)
		if err != nil {
			return SessionState{}, fmt.Errorf("load map %s: %w", campaign.ActiveMapID, err)
		}
		initial.Map = &active
	}
	if campaign.ActiveEncounterID != "" {
		encounter, err := m.loader.LoadEncounter(ctx, campaign.ActiveEncounterID)
		if err != nil {
			return SessionState{}, fmt.Errorf("load encounter %s: %w", campaign.ActiveEncounterID, err)
		}
		initial.Encounter = &encounter
	}
	return initial, nil
}

// Get returns the live session with the id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Close disposes the session and forgets it. It reports whether the session was open.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	sess.Dispose()
	metrics.ActiveSessions.Dec()
	m.log.Info("session closed", zap.String("session_id", sessionID))
	return true
}

// List returns the sorted ids of live sessions.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReapAbandoned closes every abandoned session and returns the ids it closed.
func (m *Manager) ReapAbandoned(_ context.Context) []string {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		candidates = append(candidates, sess)
	}
	m.mu.RUnlock()

	var reaped []string
	for _, sess := range candidates {
		if !sess.IsAbandoned() {
			continue
		}
		if m.Close(sess.ID()) {
			reaped = append(reaped, sess.ID())
		}
	}
	sort.Strings(reaped)
	if len(reaped) > 0 {
		m.log.Info("reaped abandoned sessions", zap.Int("count", len(reaped)))
	}
	return reaped
}

// CloseAll disposes every live session.
func (m *Manager) CloseAll() int {
	closed := 0
	for _, id := range m.List() {
		if m.Close(id) {
			closed++
		}
	}
	return closed
}
