package session

import (
	"go.uber.org/zap"

	"github.com/charlesng35/tabletop/pkg/metrics"
)

// Outbound event names delivered through the transport.
const (
	EventFullState         = "session.state"
	EventRuntimeState      = "session.runtime"
	EventMapUpdate         = "session.map"
	EventEncounterUpdate   = "session.encounter"
	EventActionResult      = "session.action"
	EventParticipantJoined = "session.participant.joined"
	EventParticipantLeft   = "session.participant.left"
	EventLeaderStatus      = "session.leader"
	EventSessionEnded      = "session.ended"
)

// Payload is the envelope handed to the transport.
type Payload struct {
	Event        string `json:"event"`
	SessionID    string `json:"session_id"`
	StateVersion string `json:"state_version,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Transport delivers payloads to connections. Implementations must be safe for
// concurrent use.
type Transport interface {
	SendToConnection(connectionID string, payload Payload) error
	BroadcastToSession(sessionID string, payload Payload, excludeConnectionIDs ...string) error
}

// RuntimeState is the data carried by runtime state change broadcasts.
type RuntimeState struct {
	Settings       Settings         `json:"settings"`
	LeaderStatus   ConnectionStatus `json:"leader_status"`
	PendingActions int              `json:"pending_actions"`
}

// Broadcaster fans session changes out to connected participants. Delivery failures
// are logged and dropped.
type Broadcaster struct {
	transport Transport
	sessionID string
	enabled   bool
	log       *zap.Logger
}

// NewBroadcaster constructs a broadcaster. A nil transport or enabled=false turns every
// method into a no-op.
func NewBroadcaster(sessionID string, transport Transport, enabled bool, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		transport: transport,
		sessionID: sessionID,
		enabled:   enabled && transport != nil,
		log:       log,
	}
}

// FullState sends the recipient its filtered view of the whole state.
func (b *Broadcaster) FullState(recipient Participant, state SessionState) {
	if !b.enabled {
		return
	}
	view := FilterState(state, recipient.UserID, recipient.Role == RoleLeader)
	b.send(recipient.ConnectionID, Payload{
		Event:        EventFullState,
		SessionID:    b.sessionID,
		StateVersion: state.StateVersion,
		Data:         view,
	})
}

// RuntimeStateChange broadcasts settings and leader status to the whole session.
func (b *Broadcaster) RuntimeStateChange(state SessionState, leader ConnectionStatus) {
	if !b.enabled {
		return
	}
	b.broadcast(Payload{
		Event:        EventRuntimeState,
		SessionID:    b.sessionID,
		StateVersion: state.StateVersion,
		Data: RuntimeState{
			Settings:       state.Settings,
			LeaderStatus:   leader,
			PendingActions: len(state.PendingActions),
		},
	})
}

// MapUpdate sends each recipient the active map with hidden tokens removed for non-leaders.
func (b *Broadcaster) MapUpdate(state SessionState, recipients []Participant) {
	if !b.enabled {
		return
	}
	leaderView := state.Map.Clone()
	playerView := filterMap(state.Map)
	for _, recipient := range recipients {
		data := playerView
		if recipient.Role == RoleLeader {
			data = leaderView
		}
		b.send(recipient.ConnectionID, Payload{
			Event:        EventMapUpdate,
			SessionID:    b.sessionID,
			StateVersion: state.StateVersion,
			Data:         data,
		})
	}
}

// EncounterUpdate broadcasts the active encounter to the whole session.
func (b *Broadcaster) EncounterUpdate(state SessionState) {
	if !b.enabled {
		return
	}
	b.broadcast(Payload{
		Event:        EventEncounterUpdate,
		SessionID:    b.sessionID,
		StateVersion: state.StateVersion,
		Data:         state.Encounter.Clone(),
	})
}

// ActionResult delivers an action message. Completed results go to the whole session;
// queued and rejected results go to the submitter and the leader only.
func (b *Broadcaster) ActionResult(msg ActionMessage, submitter, leader *Participant) {
	if !b.enabled {
		return
	}
	payload := Payload{
		Event:        EventActionResult,
		SessionID:    b.sessionID,
		StateVersion: msg.StateVersion,
		Data:         msg,
	}
	if msg.Status == ActionCompleted {
		b.broadcast(payload)
		return
	}

	sent := make(map[string]struct{}, 2)
	for _, recipient := range []*Participant{submitter, leader} {
		if recipient == nil || recipient.ConnectionID == "" {
			continue
		}
		if _, ok := sent[recipient.ConnectionID]; ok {
			continue
		}
		sent[recipient.ConnectionID] = struct{}{}
		b.send(recipient.ConnectionID, payload)
	}
}

// Notify broadcasts a session event to every connection except the excluded ones.
func (b *Broadcaster) Notify(event, stateVersion string, data any, excludeConnectionIDs ...string) {
	if !b.enabled {
		return
	}
	b.broadcast(Payload{
		Event:        event,
		SessionID:    b.sessionID,
		StateVersion: stateVersion,
		Data:         data,
	}, excludeConnectionIDs...)
}

func (b *Broadcaster) send(connectionID string, payload Payload) {
	if connectionID == "" {
		return
	}
	if err := b.transport.SendToConnection(connectionID, payload); err != nil {
		metrics.BroadcastFailures.WithLabelValues("send").Inc()
		b.log.Warn("failed to deliver session payload",
			zap.String("event", payload.Event),
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
	}
}

func (b *Broadcaster) broadcast(payload Payload, exclude ...string) {
	if err := b.transport.BroadcastToSession(b.sessionID, payload, exclude...); err != nil {
		metrics.BroadcastFailures.WithLabelValues("broadcast").Inc()
		b.log.Warn("failed to broadcast session payload",
			zap.String("event", payload.Event),
			zap.Error(err),
		)
	}
}

// FilterState returns the view of state viewerID may see. Non-leaders only keep their
// own queued actions and lose hidden map tokens.
func FilterState(state SessionState, viewerID string, isLeader bool) SessionState {
	view := state.Clone()
	if isLeader {
		return view
	}
	own := make([]QueuedAction, 0, len(view.PendingActions))
	for _, queued := range view.PendingActions {
		if queued.ParticipantID == viewerID {
			own = append(own, queued)
		}
	}
	view.PendingActions = own
	view.Map = filterMap(view.Map)
	return view
}

func filterMap(m *MapState) *MapState {
	if m == nil {
		return nil
	}
	out := m.Clone()
	visible := out.Tokens[:0]
	for _, token := range out.Tokens {
		if !token.Hidden {
			visible = append(visible, token)
		}
	}
	out.Tokens = visible
	return out
}
