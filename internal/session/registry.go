package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

// Participant is a connected user within one session.
type Participant struct {
	UserID        string    `json:"user_id"`
	ConnectionID  string    `json:"connection_id"`
	Role          Role      `json:"role"`
	CharacterIDs  []string  `json:"character_ids,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (p Participant) clone() Participant {
	p.CharacterIDs = append([]string(nil), p.CharacterIDs...)
	return p
}

func (p Participant) controls(characterID string) bool {
	for _, id := range p.CharacterIDs {
		if id == characterID {
			return true
		}
	}
	return false
}

// ConnectionRegistry tracks the participants connected to one session and enforces its
// capacity.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	max     int
	entries map[string]*Participant
	timeNow func() time.Time
}

// NewConnectionRegistry constructs a registry admitting at most max participants. A
// non-positive max disables the limit.
func NewConnectionRegistry(max int, now func() time.Time) *ConnectionRegistry {
	if now == nil {
		now = time.Now
	}
	return &ConnectionRegistry{
		max:     max,
		entries: make(map[string]*Participant),
		timeNow: now,
	}
}

// Connect admits a participant. A user already present is updated in place, keeps its
// original ConnectedAt and does not count against capacity again; rejoined reports that case.
func (r *ConnectionRegistry) Connect(p Participant) (participant Participant, rejoined bool, err error) {
	if p.UserID == "" {
		return Participant{}, false, apperrors.ErrInvalidParameters.WithMessage("participant id is required")
	}

	now := r.timeNow()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[p.UserID]; ok {
		if p.ConnectionID != "" {
			existing.ConnectionID = p.ConnectionID
		}
		if p.Role != "" {
			existing.Role = p.Role
		}
		for _, id := range p.CharacterIDs {
			if id != "" && !existing.controls(id) {
				existing.CharacterIDs = append(existing.CharacterIDs, id)
			}
		}
		existing.LastHeartbeat = now
		return existing.clone(), true, nil
	}

	if r.max > 0 && len(r.entries) >= r.max {
		return Participant{}, false, apperrors.ErrCapacityExceeded.WithMessage(
			fmt.Sprintf("session allows at most %d participants", r.max))
	}

	record := p.clone()
	if record.Role == "" {
		record.Role = RoleParticipant
	}
	record.ConnectedAt = now
	record.LastHeartbeat = now
	r.entries[record.UserID] = &record
	return record.clone(), false, nil
}

// Disconnect removes a participant and returns the removed record.
func (r *ConnectionRegistry) Disconnect(userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[userID]
	if !ok {
		return Participant{}, false
	}
	delete(r.entries, userID)
	return existing.clone(), true
}

// Touch records a heartbeat for the participant.
func (r *ConnectionRegistry) Touch(userID string) bool {
	now := r.timeNow()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[userID]
	if !ok {
		return false
	}
	existing.LastHeartbeat = now
	return true
}

// Get returns a copy of the participant record.
func (r *ConnectionRegistry) Get(userID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.entries[userID]
	if !ok {
		return Participant{}, false
	}
	return existing.clone(), true
}

// List returns all participants ordered by connection time.
func (r *ConnectionRegistry) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of connected participants.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Controls reports whether the connected user controls the character.
func (r *ConnectionRegistry) Controls(userID, characterID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.entries[userID]
	if !ok {
		return false
	}
	return existing.controls(characterID)
}

// Clear removes every participant and returns how many were removed.
func (r *ConnectionRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make(map[string]*Participant)
	return n
}
