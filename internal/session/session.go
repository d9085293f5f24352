package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
	"github.com/charlesng35/tabletop/pkg/logger"
	"github.com/charlesng35/tabletop/pkg/metrics"
	"github.com/charlesng35/tabletop/pkg/validator"
)

const aggregateName = "SessionAggregate"

// Session is the aggregate coordinating one live game session. All mutating operations
// are serialized; each committed mutation bumps the state version exactly once.
type Session struct {
	mu sync.Mutex

	id         string
	campaignID string
	leaderID   string

	cfg          Config
	state        SessionState
	version      uint64
	lastActivity time.Time
	started      bool
	disposed     bool

	registry    *ConnectionRegistry
	authority   *Authority
	processor   *Processor
	broadcaster *Broadcaster

	transport Transport
	events    EventSink
	loader    EntityLoader
	cron      *cron.Cron
	timeNow   func() time.Time
	newID     func() string
	log       *zap.Logger
}

// Option customises the Session.
type Option func(*Session)

// WithTransport sets the realtime transport used for broadcasts.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithEventSink sets the sink receiving domain events.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) {
		s.events = sink
	}
}

// WithLoader sets the entity loader used to resolve characters, maps and encounters.
func WithLoader(loader EntityLoader) Option {
	return func(s *Session) {
		s.loader = loader
	}
}

// WithClock overrides the clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// WithCron injects the scheduler running the leader heartbeat check.
func WithCron(c *cron.Cron) Option {
	return func(s *Session) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithIDGenerator overrides how message, queue and event ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// JoinParams identifies who is joining and which character they bring.
type JoinParams struct {
	ParticipantID string
	ConnectionID  string
	CharacterID   string
}

// New constructs a session from its initial state. Timers are not running until Start.
func New(initial SessionState, rules *Rules, cfg Config, opts ...Option) (*Session, error) {
	if rules == nil {
		return nil, errors.New("session: rules registry is required")
	}
	initial.SessionID = strings.TrimSpace(initial.SessionID)
	initial.CampaignID = strings.TrimSpace(initial.CampaignID)
	initial.LeaderID = strings.TrimSpace(initial.LeaderID)
	switch {
	case initial.SessionID == "":
		return nil, apperrors.NewValidation(aggregateName, "sessionId", "must not be empty")
	case initial.CampaignID == "":
		return nil, apperrors.NewValidation(aggregateName, "campaignId", "must not be empty")
	case initial.LeaderID == "":
		return nil, apperrors.NewValidation(aggregateName, "leaderId", "must not be empty")
	}

	s := &Session{
		id:         initial.SessionID,
		campaignID: initial.CampaignID,
		leaderID:   initial.LeaderID,
		cfg:        cfg.withDefaults(),
		timeNow:    time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithSession("session", s.id)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	state := initial.Clone()
	state.PendingActions = nil
	version, err := strconv.ParseUint(state.StateVersion, 10, 64)
	if err != nil || version == 0 {
		version = 1
	}
	state.StateVersion = strconv.FormatUint(version, 10)
	if state.LastUpdated.IsZero() {
		state.LastUpdated = s.timeNow()
	}

	s.state = state
	s.version = version
	s.lastActivity = s.timeNow()
	s.registry = NewConnectionRegistry(s.cfg.MaxParticipants, s.timeNow)
	s.authority = NewAuthority(s.leaderID, s.cfg.authority(),
		WithAuthorityClock(s.timeNow),
		WithAuthorityIDGenerator(s.newID),
		WithAuthorityLogger(s.log.With(zap.String("component", "authority"))),
	)
	s.processor = NewProcessor(rules, s.log)
	s.broadcaster = NewBroadcaster(s.id, s.transport, s.cfg.BroadcastEnabled, s.log)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CampaignID returns the campaign the session belongs to.
func (s *Session) CampaignID() string { return s.campaignID }

// LeaderID returns the user id of the leader.
func (s *Session) LeaderID() string { return s.leaderID }

// Start schedules the leader heartbeat check and the expired-action sweeper.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if s.started {
		return nil
	}

	schedule := fmt.Sprintf("@every %s", s.cfg.HeartbeatInterval)
	if _, err := s.cron.AddFunc(schedule, s.CheckLeaderHeartbeat); err != nil {
		return fmt.Errorf("session: schedule heartbeat check: %w", err)
	}
	if err := s.authority.Start(); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Join admits a participant, optionally binding a character, and returns the state
// visible to them. Joining as the leader counts as a leader heartbeat.
func (s *Session) Join(ctx context.Context, params JoinParams) (SessionState, error) {
	participantID := strings.TrimSpace(params.ParticipantID)
	characterID := strings.TrimSpace(params.CharacterID)
	if participantID == "" {
		return SessionState{}, apperrors.ErrInvalidParameters.WithMessage("participant id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return SessionState{}, err
	}

	role := RoleParticipant
	if participantID == s.leaderID {
		role = RoleLeader
	}

	candidate := s.state
	candidate.Characters = cloneCharacters(s.state.Characters)
	if characterID != "" {
		if _, ok := candidate.Character(characterID); !ok {
			loaded, err := s.loadCharacterLocked(ctx, characterID)
			if err != nil {
				return SessionState{}, err
			}
			candidate.Characters = append(candidate.Characters, loaded)
		}
		character, _ := candidate.Character(characterID)
		switch {
		case character.ControlledBy == "":
			character.ControlledBy = participantID
		case character.ControlledBy != participantID && role != RoleLeader:
			return SessionState{}, apperrors.ErrForbidden.WithMessage(
				fmt.Sprintf("character %s is controlled by another participant", characterID))
		}
	}

	var controlled []string
	for i := range candidate.Characters {
		if candidate.Characters[i].ControlledBy == participantID {
			candidate.Characters[i].Online = true
			controlled = append(controlled, candidate.Characters[i].ID)
		}
	}

	participant, rejoined, err := s.registry.Connect(Participant{
		UserID:       participantID,
		ConnectionID: params.ConnectionID,
		Role:         role,
		CharacterIDs: controlled,
	})
	if err != nil {
		return SessionState{}, err
	}
	if err := s.commitLocked(candidate); err != nil {
		if !rejoined {
			s.registry.Disconnect(participantID)
		}
		return SessionState{}, err
	}
	if !rejoined {
		metrics.ConnectedParticipants.Inc()
	}

	s.log.Info("participant joined",
		zap.String("participant_id", participantID),
		zap.String("role", string(role)),
		zap.Bool("rejoined", rejoined),
	)
	s.emitLocked(ctx, ParticipantJoined, participantID, map[string]any{
		"role":         string(role),
		"character_id": characterID,
		"rejoined":     rejoined,
	})
	s.broadcaster.Notify(EventParticipantJoined, s.state.StateVersion, map[string]any{
		"participant_id": participantID,
		"role":           role,
		"character_ids":  controlled,
	}, participant.ConnectionID)

	if role == RoleLeader {
		if err := s.leaderHeartbeatLocked(ctx); err != nil {
			s.log.Error("replay after leader join failed", zap.Error(err))
		}
	}

	snapshot := s.snapshotLocked()
	s.broadcaster.FullState(participant, snapshot)
	return FilterState(snapshot, participantID, role == RoleLeader), nil
}

// Leave removes a participant. Leaving as the leader marks the leader disconnected at once.
// Unknown participants are ignored.
func (s *Session) Leave(ctx context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	return s.leaveLocked(ctx, participantID)
}

// LeaveConnection removes the participant only while connectionID is still their
// current connection, so a stale socket closing does not evict a reconnected user.
func (s *Session) LeaveConnection(ctx context.Context, participantID, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	current, ok := s.registry.Get(participantID)
	if !ok || (connectionID != "" && current.ConnectionID != connectionID) {
		return nil
	}
	return s.leaveLocked(ctx, participantID)
}

func (s *Session) leaveLocked(ctx context.Context, participantID string) error {
	participant, ok := s.registry.Disconnect(participantID)
	if !ok {
		s.log.Warn("leave for unknown participant", zap.String("participant_id", participantID))
		return nil
	}
	metrics.ConnectedParticipants.Dec()

	candidate := s.state
	candidate.Characters = cloneCharacters(s.state.Characters)
	for i := range candidate.Characters {
		if candidate.Characters[i].ControlledBy == participantID {
			candidate.Characters[i].Online = false
		}
	}
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.log.Info("participant left", zap.String("participant_id", participantID))
	s.emitLocked(ctx, ParticipantLeft, participantID, map[string]any{"role": string(participant.Role)})
	s.broadcaster.Notify(EventParticipantLeft, s.state.StateVersion, map[string]any{
		"participant_id": participantID,
	})

	if participant.Role == RoleLeader && s.authority.MarkDisconnected() {
		s.publishLeaderStatusLocked(ctx)
	}
	return nil
}

// SubmitAction routes an action from a connected participant. While the leader is
// disconnected, non-leader actions are queued for replay.
func (s *Session) SubmitAction(ctx context.Context, req ActionRequest, participantID string) (ActionMessage, error) {
	req = req.normalize()
	if err := validator.ValidateStruct(req); err != nil {
		return ActionMessage{}, apperrors.ErrInvalidParameters.WithMessage(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return ActionMessage{}, err
	}
	participant, ok := s.registry.Get(participantID)
	if !ok {
		return ActionMessage{}, apperrors.ErrNotConnected
	}
	s.registry.Touch(participantID)
	submittedAt := s.timeNow()
	s.lastActivity = submittedAt

	if participant.Role == RoleLeader {
		if err := s.leaderHeartbeatLocked(ctx); err != nil {
			s.log.Error("replay before leader action failed", zap.Error(err))
		}
	} else {
		if reason := s.policyRejectionLocked(); reason != "" {
			msg := reject(ActionMessage{
				ID:            s.newID(),
				ParticipantID: participantID,
				Request:       req.Clone(),
				SubmittedAt:   submittedAt,
				StateVersion:  s.state.StateVersion,
			}, reason)
			metrics.ActionsProcessed.WithLabelValues(string(ActionRejected)).Inc()
			s.emitLocked(ctx, ActionProcessed, participantID, actionEventData(msg))
			s.publishOutcomeLocked(msg, nil)
			return msg, nil
		}
		if !s.authority.IsConnected() {
			return s.enqueueLocked(ctx, req, participantID, submittedAt)
		}
		if s.authority.Len() > 0 {
			if err := s.replayLocked(ctx); err != nil {
				s.log.Error("replay before player action failed", zap.Error(err))
			}
		}
	}

	actx := s.actionContextLocked(participantID, false)
	msg, draft, err := s.processLocked(ctx, s.newID(), req, actx, submittedAt)
	if err != nil {
		return ActionMessage{}, err
	}
	s.publishOutcomeLocked(msg, draft)
	return msg, nil
}

func (s *Session) enqueueLocked(ctx context.Context, req ActionRequest, participantID string, submittedAt time.Time) (ActionMessage, error) {
	queued, ok := s.authority.Enqueue(req, participantID)
	if !ok {
		metrics.QueueRejections.Inc()
		s.log.Warn("action queue full", zap.String("participant_id", participantID), zap.String("action_id", req.ID))
		return ActionMessage{}, apperrors.ErrQueueFull
	}
	if err := s.commitLocked(s.state); err != nil {
		s.authority.Acknowledge(queued.ID)
		return ActionMessage{}, err
	}

	msg := ActionMessage{
		ID:            queued.ID,
		ParticipantID: participantID,
		Request:       req.Clone(),
		SubmittedAt:   submittedAt,
		Status:        ActionQueued,
		StateVersion:  s.state.StateVersion,
	}
	metrics.ActionsProcessed.WithLabelValues(string(ActionQueued)).Inc()
	s.emitLocked(ctx, ActionEnqueued, participantID, actionEventData(msg))
	s.publishOutcomeLocked(msg, nil)
	return msg, nil
}

func (s *Session) processLocked(ctx context.Context, messageID string, req ActionRequest, actx ActionContext, submittedAt time.Time) (ActionMessage, *Draft, error) {
	out, err := s.processor.Process(ctx, messageID, req, s.snapshotLocked(), actx, submittedAt)
	if err != nil {
		metrics.ActionsProcessed.WithLabelValues("failed").Inc()
		return ActionMessage{}, nil, err
	}
	if out.Draft != nil {
		if err := s.commitLocked(out.Draft.applyTo(s.state)); err != nil {
			metrics.ActionsProcessed.WithLabelValues("failed").Inc()
			return ActionMessage{}, nil, err
		}
	}

	msg := out.Message
	msg.StateVersion = s.state.StateVersion
	metrics.ActionsProcessed.WithLabelValues(string(msg.Status)).Inc()
	s.emitLocked(ctx, ActionProcessed, actx.ParticipantID, actionEventData(msg))
	return msg, out.Draft, nil
}

func (s *Session) publishOutcomeLocked(msg ActionMessage, draft *Draft) {
	var submitter, leader *Participant
	if p, ok := s.registry.Get(msg.ParticipantID); ok {
		submitter = &p
	}
	if p, ok := s.registry.Get(s.leaderID); ok {
		leader = &p
	}
	s.broadcaster.ActionResult(msg, submitter, leader)

	if draft == nil {
		return
	}
	if draft.touched("map") {
		s.broadcaster.MapUpdate(s.state, s.registry.List())
	}
	if draft.touched("encounter") {
		s.broadcaster.EncounterUpdate(s.state)
	}
}

func (s *Session) policyRejectionLocked() string {
	switch {
	case s.state.Settings.Paused:
		return "session is paused"
	case !s.state.Settings.AllowPlayerActions:
		return "player actions are disabled"
	default:
		return ""
	}
}

// HandleLeaderHeartbeat records a heartbeat from the leader. When the leader comes
// back from disconnected, queued actions are replayed in submission order.
func (s *Session) HandleLeaderHeartbeat(ctx context.Context, leaderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if leaderID != s.leaderID {
		return apperrors.NewValidation(aggregateName, "leaderId", "heartbeat is not from the session leader")
	}
	s.registry.Touch(leaderID)
	s.lastActivity = s.timeNow()
	return s.leaderHeartbeatLocked(ctx)
}

func (s *Session) leaderHeartbeatLocked(ctx context.Context) error {
	before := s.authority.ConnectionStatus()
	reconnected := s.authority.HandleHeartbeat(s.leaderID)
	if s.authority.ConnectionStatus() != before {
		s.publishLeaderStatusLocked(ctx)
	}
	if !reconnected && s.authority.Len() == 0 {
		return nil
	}
	return s.replayLocked(ctx)
}

type replayedAction struct {
	msg   ActionMessage
	draft *Draft
}

// replayLocked drains the queue in enqueue order. An action whose execution faults is
// dropped with a rejected result to its submitter and the actions behind it still apply;
// the faults are returned together once the queue is empty.
func (s *Session) replayLocked(ctx context.Context) error {
	s.authority.SweepExpired()
	queued := s.authority.DrainForReplay()
	if len(queued) == 0 {
		return nil
	}

	results := make([]replayedAction, 0, len(queued))
	var faults error
	applied := 0
	for _, action := range queued {
		actx := s.actionContextLocked(action.ParticipantID, true)
		msg, draft, err := s.processLocked(ctx, action.ID, action.Request, actx, action.EnqueuedAt)
		s.authority.Acknowledge(action.ID)
		if err != nil {
			faults = multierr.Append(faults, fmt.Errorf("replay queued action %s: %w", action.Request.ID, err))
			s.log.Error("dropping queued action after execution fault",
				zap.String("action_id", action.Request.ID),
				zap.String("participant_id", action.ParticipantID),
				zap.Error(err),
			)
			msg = s.replayFaultLocked(ctx, action, err)
			results = append(results, replayedAction{msg: msg})
			continue
		}
		applied++
		results = append(results, replayedAction{msg: msg, draft: draft})
	}
	metrics.ReplayedActions.Add(float64(applied))

	dropped := len(queued) - applied
	s.log.Info("replayed queued actions",
		zap.Int("replayed", applied),
		zap.Int("dropped", dropped),
		zap.Int("remaining", s.authority.Len()),
	)
	s.emitLocked(ctx, ActionsReplayed, s.leaderID, map[string]any{
		"count":     applied,
		"dropped":   dropped,
		"remaining": s.authority.Len(),
		"failed":    faults != nil,
	})
	for _, result := range results {
		s.publishOutcomeLocked(result.msg, result.draft)
	}
	return faults
}

func (s *Session) replayFaultLocked(ctx context.Context, action QueuedAction, cause error) ActionMessage {
	reason := "action execution failed"
	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) && appErr.Message != "" {
		reason = appErr.Message
	}
	// The queue shrank, so observers see a new version.
	if err := s.commitLocked(s.state); err != nil {
		s.log.Warn("commit after dropping queued action failed", zap.Error(err))
	}
	msg := reject(ActionMessage{
		ID:            action.ID,
		ParticipantID: action.ParticipantID,
		Request:       action.Request.Clone(),
		SubmittedAt:   action.EnqueuedAt,
		StateVersion:  s.state.StateVersion,
		Replayed:      true,
	}, reason)
	metrics.ActionsProcessed.WithLabelValues(string(ActionRejected)).Inc()
	s.emitLocked(ctx, ActionProcessed, action.ParticipantID, actionEventData(msg))
	return msg
}

// HandleParticipantHeartbeat records that a participant is still present.
func (s *Session) HandleParticipantHeartbeat(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if !s.registry.Touch(participantID) {
		return apperrors.ErrNotConnected
	}
	s.lastActivity = s.timeNow()
	return nil
}

// CheckLeaderHeartbeat counts a missed heartbeat when the leader has been silent for a
// full heartbeat interval. It runs on the session scheduler.
func (s *Session) CheckLeaderHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || !s.authority.IsConnected() {
		return
	}
	if s.timeNow().Sub(s.authority.LastHeartbeat()) < s.cfg.HeartbeatInterval {
		return
	}

	before := s.authority.ConnectionStatus()
	s.authority.HandleMissedHeartbeat(s.leaderID)
	if s.authority.ConnectionStatus() != before {
		s.publishLeaderStatusLocked(context.Background())
	}
}

func (s *Session) publishLeaderStatusLocked(ctx context.Context) {
	status := s.authority.Status()
	metrics.LeaderTransitions.WithLabelValues(string(status.Status)).Inc()
	s.log.Info("leader status changed",
		zap.String("status", string(status.Status)),
		zap.Int("missed_heartbeats", status.MissedHeartbeats),
	)
	s.emitLocked(ctx, LeaderStatusChanged, s.leaderID, map[string]any{
		"status":            string(status.Status),
		"missed_heartbeats": status.MissedHeartbeats,
		"queued_actions":    status.QueuedActions,
	})
	s.broadcaster.Notify(EventLeaderStatus, s.state.StateVersion, status)
}

// SweepExpiredActions evicts queued actions past their expiry.
func (s *Session) SweepExpiredActions() int {
	return s.authority.SweepExpired()
}

// UpdateSettings merges the supplied toggles into the session settings.
func (s *Session) UpdateSettings(ctx context.Context, update SettingsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if update.Empty() {
		return nil
	}

	candidate := s.state
	candidate.Settings = update.apply(s.state.Settings)
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, SettingsUpdated, s.leaderID, map[string]any{"settings": s.state.Settings})
	s.broadcaster.RuntimeStateChange(s.snapshotLocked(), s.authority.ConnectionStatus())
	return nil
}

// UpdateMapState merges view and token changes into the active map. Updates for any
// other map id are ignored.
func (s *Session) UpdateMapState(ctx context.Context, update MapUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if s.state.Map == nil || update.MapID != s.state.Map.MapID {
		s.log.Debug("ignoring update for inactive map", zap.String("map_id", update.MapID))
		return nil
	}

	next := s.state.Map.Clone()
	if update.View != nil {
		if update.View.Zoom <= 0 {
			return apperrors.NewValidation(aggregateName, "map.view.zoom", "must be positive")
		}
		next.View = *update.View
	}
	if update.Tokens != nil {
		next.Tokens = append([]Token(nil), update.Tokens...)
	}

	candidate := s.state
	candidate.Map = next
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, MapUpdated, s.leaderID, map[string]any{"map_id": next.MapID})
	s.broadcaster.MapUpdate(s.state, s.registry.List())
	return nil
}

// UpdateEncounterState merges round, turn, initiative and effect changes into the active
// encounter. Updates for any other encounter id are ignored.
func (s *Session) UpdateEncounterState(ctx context.Context, update EncounterUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if s.state.Encounter == nil || update.EncounterID != s.state.Encounter.EncounterID {
		s.log.Debug("ignoring update for inactive encounter", zap.String("encounter_id", update.EncounterID))
		return nil
	}

	next := s.state.Encounter.Clone()
	if update.Active != nil {
		next.Active = *update.Active
	}
	if update.Round != nil {
		next.Round = *update.Round
	}
	if update.Turn != nil {
		next.Turn = *update.Turn
	}
	if update.Initiative != nil {
		next.Initiative = append([]InitiativeSlot(nil), update.Initiative...)
	}
	if update.StatusEffects != nil {
		next.StatusEffects = append([]StatusEffect(nil), update.StatusEffects...)
	}

	candidate := s.state
	candidate.Encounter = next
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, EncounterUpdated, s.leaderID, map[string]any{
		"encounter_id": next.EncounterID,
		"round":        next.Round,
		"turn":         next.Turn,
	})
	s.broadcaster.EncounterUpdate(s.state)
	return nil
}

// ChangeMap loads a map by id and makes it the active map.
func (s *Session) ChangeMap(ctx context.Context, mapID string) error {
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return apperrors.ErrInvalidParameters.WithMessage("map id is required")
	}
	if s.loader == nil {
		return apperrors.ErrNotFound.WithMessage("map loader is not configured")
	}
	loaded, err := s.loader.LoadMap(ctx, mapID)
	if err != nil {
		return fmt.Errorf("load map %s: %w", mapID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	candidate := s.state
	candidate.Map = loaded.Clone()
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, MapChanged, s.leaderID, map[string]any{"map_id": mapID})
	s.broadcaster.MapUpdate(s.state, s.registry.List())
	return nil
}

// StartEncounter loads an encounter by id and activates it.
func (s *Session) StartEncounter(ctx context.Context, encounterID string) error {
	encounterID = strings.TrimSpace(encounterID)
	if encounterID == "" {
		return apperrors.ErrInvalidParameters.WithMessage("encounter id is required")
	}
	if s.loader == nil {
		return apperrors.ErrNotFound.WithMessage("encounter loader is not configured")
	}
	loaded, err := s.loader.LoadEncounter(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("load encounter %s: %w", encounterID, err)
	}

	next := loaded.Clone()
	next.Active = true
	if next.Round < 1 {
		next.Round = 1
	}
	if next.Turn < 0 || next.Turn >= len(next.Initiative) {
		next.Turn = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	candidate := s.state
	candidate.Encounter = next
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, EncounterStarted, s.leaderID, map[string]any{"encounter_id": encounterID})
	s.broadcaster.EncounterUpdate(s.state)
	return nil
}

// EndEncounter deactivates the active encounter.
func (s *Session) EndEncounter(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return err
	}
	if s.state.Encounter == nil || !s.state.Encounter.Active {
		return nil
	}

	next := s.state.Encounter.Clone()
	next.Active = false
	candidate := s.state
	candidate.Encounter = next
	if err := s.commitLocked(candidate); err != nil {
		return err
	}

	s.emitLocked(ctx, EncounterEnded, s.leaderID, map[string]any{
		"encounter_id": next.EncounterID,
		"encounter":    *next.Clone(),
	})
	s.broadcaster.EncounterUpdate(s.state)
	return nil
}

// StateFor returns the state visible to the participant.
func (s *Session) StateFor(participantID string) (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(); err != nil {
		return SessionState{}, err
	}
	return FilterState(s.snapshotLocked(), participantID, participantID == s.leaderID), nil
}

// State returns the unfiltered state including pending actions.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Participants lists connected participants.
func (s *Session) Participants() []Participant {
	return s.registry.List()
}

// Participant returns the connected participant record.
func (s *Session) Participant(participantID string) (Participant, bool) {
	return s.registry.Get(participantID)
}

// IsLeaderConnected reports whether the leader currently holds authority.
func (s *Session) IsLeaderConnected() bool {
	return s.authority.IsConnected()
}

// LeaderStatus returns the derived leader connection status.
func (s *Session) LeaderStatus() ConnectionStatus {
	return s.authority.ConnectionStatus()
}

// AuthorityStatus returns a snapshot of the leader authority state.
func (s *Session) AuthorityStatus() AuthorityStatus {
	return s.authority.Status()
}

// IsAbandoned reports whether the session should be reaped: the leader grace period
// expired, or nobody has been connected for a grace period.
func (s *Session) IsAbandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.authority.IsGracePeriodExpired() {
		return true
	}
	return s.registry.Count() == 0 && s.timeNow().Sub(s.lastActivity) > s.cfg.GracePeriod
}

// Disposed reports whether Dispose has run.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose stops all timers, drops connections and pending actions and tells clients the
// session ended. Every later operation returns ErrSessionDisposed.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	s.disposed = true
	s.cron.Stop()
	s.authority.Stop()

	removed := s.registry.Clear()
	metrics.ConnectedParticipants.Sub(float64(removed))
	dropped := s.authority.Len()
	s.authority.Clear()

	s.log.Info("session disposed", zap.Int("participants", removed), zap.Int("dropped_actions", dropped))
	s.emitLocked(context.Background(), SessionDisposed, "", map[string]any{
		"participants":    removed,
		"dropped_actions": dropped,
	})
	s.broadcaster.Notify(EventSessionEnded, s.state.StateVersion, nil)
}

func (s *Session) ensureActiveLocked() error {
	if s.disposed {
		return apperrors.ErrSessionDisposed
	}
	return nil
}

func (s *Session) loadCharacterLocked(ctx context.Context, characterID string) (CharacterSummary, error) {
	if s.loader == nil {
		return CharacterSummary{}, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("character %s not found", characterID))
	}
	character, err := s.loader.LoadCharacter(ctx, characterID)
	if err != nil {
		return CharacterSummary{}, fmt.Errorf("load character %s: %w", characterID, err)
	}
	return character.Clone(), nil
}

// commitLocked validates the candidate state, assigns it and bumps the version.
func (s *Session) commitLocked(candidate SessionState) error {
	next := s.version + 1
	if err := s.checkInvariantsLocked(candidate, next); err != nil {
		return err
	}

	now := s.timeNow()
	candidate.PendingActions = nil
	candidate.StateVersion = strconv.FormatUint(next, 10)
	candidate.LastUpdated = now
	s.state = candidate
	s.version = next
	s.lastActivity = now
	return nil
}

func (s *Session) checkInvariantsLocked(candidate SessionState, next uint64) error {
	if candidate.SessionID != s.id {
		return apperrors.NewValidation(aggregateName, "sessionId", "is immutable")
	}
	if strings.TrimSpace(candidate.CampaignID) == "" {
		return apperrors.NewValidation(aggregateName, "campaignId", "must not be empty")
	}
	if strings.TrimSpace(candidate.LeaderID) == "" {
		return apperrors.NewValidation(aggregateName, "leaderId", "must not be empty")
	}
	if count := s.registry.Count(); count > s.cfg.MaxParticipants {
		return apperrors.NewValidation(aggregateName, "participants",
			fmt.Sprintf("%d connected exceeds the limit of %d", count, s.cfg.MaxParticipants))
	}
	if next <= s.version {
		return apperrors.NewValidation(aggregateName, "stateVersion", "must increase monotonically")
	}
	if enc := candidate.Encounter; enc != nil {
		if enc.Round < 0 {
			return apperrors.NewValidation(aggregateName, "encounter.round", "must not be negative")
		}
		if len(enc.Initiative) > 0 && (enc.Turn < 0 || enc.Turn >= len(enc.Initiative)) {
			return apperrors.NewValidation(aggregateName, "encounter.turn",
				fmt.Sprintf("%d is outside the initiative order", enc.Turn))
		}
	}
	return nil
}

func (s *Session) snapshotLocked() SessionState {
	out := s.state.Clone()
	out.PendingActions = s.authority.DrainForReplay()
	return out
}

func (s *Session) actionContextLocked(participantID string, replay bool) ActionContext {
	return ActionContext{
		SessionID:     s.id,
		ParticipantID: participantID,
		LeaderID:      s.leaderID,
		IsLeader:      participantID == s.leaderID,
		IsPlayerTurn:  s.isPlayerTurnLocked(participantID),
		Replay:        replay,
	}
}

func (s *Session) isPlayerTurnLocked(participantID string) bool {
	slot, ok := s.state.Encounter.CurrentSlot()
	if !ok {
		return true
	}
	if s.registry.Controls(participantID, slot.CharacterID) {
		return true
	}
	character, ok := s.state.Character(slot.CharacterID)
	if !ok {
		return participantID == s.leaderID
	}
	if character.ControlledBy == "" {
		return participantID == s.leaderID
	}
	return character.ControlledBy == participantID
}

func (s *Session) emitLocked(ctx context.Context, eventType EventType, participantID string, data map[string]any) {
	if s.events == nil {
		return
	}
	event := Event{
		ID:            s.newID(),
		SessionID:     s.id,
		CampaignID:    s.campaignID,
		Type:          eventType,
		ParticipantID: participantID,
		StateVersion:  s.state.StateVersion,
		OccurredAt:    s.timeNow(),
		Data:          data,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish session event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

func actionEventData(msg ActionMessage) map[string]any {
	data := map[string]any{
		"message_id": msg.ID,
		"action_id":  msg.Request.ID,
		"type":       msg.Request.Type,
		"plugin_id":  msg.Request.PluginID,
		"status":     string(msg.Status),
		"replayed":   msg.Replayed,
	}
	if msg.Result != nil && msg.Result.Reason != "" {
		data["reason"] = msg.Result.Reason
	}
	return data
}
