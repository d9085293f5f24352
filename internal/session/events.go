package session

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventType names a domain event emitted by the session aggregate.
type EventType string

const (
	// ParticipantJoined is emitted on every join and rejoin.
	ParticipantJoined EventType = "participant.joined"
	// ParticipantLeft is emitted when a participant is removed.
	ParticipantLeft EventType = "participant.left"
	// ActionEnqueued is emitted when an action is held for replay.
	ActionEnqueued EventType = "action.queued"
	// ActionProcessed carries the completed or rejected outcome of an action.
	ActionProcessed EventType = "action.processed"
	// ActionsReplayed summarizes one drain of the pending queue.
	ActionsReplayed EventType = "actions.replayed"
	// SettingsUpdated follows a settings change by the leader.
	SettingsUpdated EventType = "settings.updated"
	// MapUpdated follows a view or token change on the active map.
	MapUpdated EventType = "map.updated"
	// MapChanged follows a switch to a different map.
	MapChanged EventType = "map.changed"
	// EncounterUpdated follows a turn, round or initiative change.
	EncounterUpdated EventType = "encounter.updated"
	// EncounterStarted follows activation of an encounter.
	EncounterStarted EventType = "encounter.started"
	// EncounterEnded follows deactivation of the active encounter.
	EncounterEnded EventType = "encounter.ended"
	// LeaderStatusChanged follows a transition of the leader connection status.
	LeaderStatusChanged EventType = "leader.status_changed"
	// SessionDisposed is the last event a session emits.
	SessionDisposed EventType = "session.disposed"
)

// Event is a domain event published after a committed mutation.
type Event struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	CampaignID    string         `json:"campaign_id"`
	Type          EventType      `json:"type"`
	ParticipantID string         `json:"participant_id,omitempty"`
	StateVersion  string         `json:"state_version"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// EventSink receives domain events. Publish errors are logged by the aggregate and never
// fail the mutation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function into an EventSink.
type EventSinkFunc func(ctx context.Context, event Event) error

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiSink publishes to every sink and combines their errors.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		errs = multierr.Append(errs, sink.Publish(ctx, event))
	}
	return errs
}

// LogSink writes every event to a zap logger at debug level.
type LogSink struct {
	Log *zap.Logger
}

// Publish implements EventSink.
func (s LogSink) Publish(_ context.Context, event Event) error {
	if s.Log == nil {
		return nil
	}
	s.Log.Debug("session event",
		zap.String("session_id", event.SessionID),
		zap.String("type", string(event.Type)),
		zap.String("participant_id", event.ParticipantID),
		zap.String("state_version", event.StateVersion),
	)
	return nil
}
