package session

import (
	"strings"
	"time"
)

// ActionStatus is the lifecycle status reported in an ActionMessage.
type ActionStatus string

const (
	// ActionQueued is held for replay while the leader is away.
	ActionQueued ActionStatus = "queued"
	// ActionProcessing is being validated or executed.
	ActionProcessing ActionStatus = "processing"
	// ActionCompleted was executed and committed.
	ActionCompleted ActionStatus = "completed"
	// ActionRejected failed validation, policy or execution and changed nothing.
	ActionRejected ActionStatus = "rejected"
)

// ActionRequest is a discrete state-mutation request resolved by a rule plugin.
type ActionRequest struct {
	ID          string         `json:"id" validate:"required,notblank"`
	Type        string         `json:"type" validate:"required,notblank"`
	PluginID    string         `json:"plugin_id" validate:"required,notblank"`
	CharacterID string         `json:"character_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (r ActionRequest) normalize() ActionRequest {
	r.ID = strings.TrimSpace(r.ID)
	r.Type = strings.TrimSpace(r.Type)
	r.PluginID = strings.TrimSpace(r.PluginID)
	r.CharacterID = strings.TrimSpace(r.CharacterID)
	return r
}

// Clone returns a copy whose payload is not shared with the receiver.
func (r ActionRequest) Clone() ActionRequest {
	r.Payload = cloneAttributes(r.Payload)
	return r
}

// StateChange describes one mutation applied by an executed action.
type StateChange struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// ActionResult is attached to completed and rejected messages.
type ActionResult struct {
	Success bool          `json:"success"`
	Changes []StateChange `json:"changes,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// ActionMessage is the result envelope returned to the submitter and broadcast to observers.
type ActionMessage struct {
	ID            string        `json:"id"`
	ParticipantID string        `json:"participant_id"`
	Request       ActionRequest `json:"request"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	Status        ActionStatus  `json:"status"`
	Result        *ActionResult `json:"result,omitempty"`
	Replayed      bool          `json:"replayed,omitempty"`
	StateVersion  string        `json:"state_version,omitempty"`
}

// ActionContext is the turn and authority context handed to rule plugins.
type ActionContext struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	LeaderID      string `json:"leader_id"`
	// IsLeader reports whether the submitter is the leader.
	IsLeader bool `json:"is_leader"`
	// IsPlayerTurn is true when no encounter is active or the submitter controls the
	// character in the current initiative slot.
	IsPlayerTurn bool `json:"is_player_turn"`
	// Replay marks actions replayed under the leader's authority after an outage.
	Replay bool `json:"replay"`
}

// QueuedAction is an action captured while the leader was unreachable.
type QueuedAction struct {
	ID            string        `json:"id"`
	ParticipantID string        `json:"participant_id"`
	ActionType    string        `json:"action_type"`
	PluginID      string        `json:"plugin_id"`
	Request       ActionRequest `json:"request"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// Clone returns a copy whose request payload is not shared with the receiver.
func (q QueuedAction) Clone() QueuedAction {
	q.Request = q.Request.Clone()
	return q
}

// Expired reports whether the action is past its expiry at the supplied instant.
func (q QueuedAction) Expired(now time.Time) bool {
	return !q.ExpiresAt.After(now)
}
