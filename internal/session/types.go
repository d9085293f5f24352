package session

import (
	"time"
)

// Role identifies how a connected user takes part in a session.
type Role string

const (
	// RoleLeader is the game master holding authority over the session.
	RoleLeader Role = "leader"
	// RoleParticipant is any other connected player or observer.
	RoleParticipant Role = "participant"
)

// SessionState is the canonical in-memory document for one live game session.
type SessionState struct {
	SessionID      string             `json:"session_id"`
	CampaignID     string             `json:"campaign_id"`
	LeaderID       string             `json:"leader_id"`
	Characters     []CharacterSummary `json:"characters"`
	Map            *MapState          `json:"map,omitempty"`
	Encounter      *EncounterState    `json:"encounter,omitempty"`
	Settings       Settings           `json:"settings"`
	PendingActions []QueuedAction     `json:"pending_actions"`
	StateVersion   string             `json:"state_version"`
	LastUpdated    time.Time          `json:"last_updated"`
}

// CharacterSummary is the roster entry for one character or actor.
type CharacterSummary struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ControlledBy string         `json:"controlled_by,omitempty"`
	Online       bool           `json:"online"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// MapState holds the active map reference and its shared view.
type MapState struct {
	MapID  string    `json:"map_id"`
	Name   string    `json:"name,omitempty"`
	View   ViewState `json:"view"`
	Tokens []Token   `json:"tokens,omitempty"`
}

// ViewState is the camera position shared by everyone looking at the map.
type ViewState struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Token places a character on the active map. Hidden tokens are visible to the leader only.
type Token struct {
	ID          string  `json:"id"`
	CharacterID string  `json:"character_id,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Hidden      bool    `json:"hidden,omitempty"`
}

// EncounterState tracks initiative order, round/turn counters and active effects.
type EncounterState struct {
	EncounterID   string           `json:"encounter_id"`
	Name          string           `json:"name,omitempty"`
	Active        bool             `json:"active"`
	Round         int              `json:"round"`
	Turn          int              `json:"turn"`
	Initiative    []InitiativeSlot `json:"initiative"`
	StatusEffects []StatusEffect   `json:"status_effects,omitempty"`
}

// InitiativeSlot is one position in the initiative order.
type InitiativeSlot struct {
	CharacterID string `json:"character_id"`
	Initiative  int    `json:"initiative"`
}

// StatusEffect is a condition applied to a character for a number of rounds.
type StatusEffect struct {
	ID              string `json:"id"`
	CharacterID     string `json:"character_id"`
	Name            string `json:"name"`
	RemainingRounds int    `json:"remaining_rounds"`
}

// Settings are the session-wide runtime toggles.
type Settings struct {
	Paused             bool `json:"paused"`
	AllowPlayerActions bool `json:"allow_player_actions"`
	ChatEnabled        bool `json:"chat_enabled"`
	WhispersEnabled    bool `json:"whispers_enabled"`
}

// DefaultSettings returns the toggles applied to a freshly opened session.
func DefaultSettings() Settings {
	return Settings{
		AllowPlayerActions: true,
		ChatEnabled:        true,
		WhispersEnabled:    true,
	}
}

// SettingsUpdate is a partial settings merge; nil fields are left untouched.
type SettingsUpdate struct {
	Paused             *bool `json:"paused,omitempty"`
	AllowPlayerActions *bool `json:"allow_player_actions,omitempty"`
	ChatEnabled        *bool `json:"chat_enabled,omitempty"`
	WhispersEnabled    *bool `json:"whispers_enabled,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u SettingsUpdate) Empty() bool {
	return u.Paused == nil && u.AllowPlayerActions == nil && u.ChatEnabled == nil && u.WhispersEnabled == nil
}

func (u SettingsUpdate) apply(settings Settings) Settings {
	if u.Paused != nil {
		settings.Paused = *u.Paused
	}
	if u.AllowPlayerActions != nil {
		settings.AllowPlayerActions = *u.AllowPlayerActions
	}
	if u.ChatEnabled != nil {
		settings.ChatEnabled = *u.ChatEnabled
	}
	if u.WhispersEnabled != nil {
		settings.WhispersEnabled = *u.WhispersEnabled
	}
	return settings
}

// MapUpdate merges into the active map when MapID matches it. Tokens replace the token
// list when non-nil.
type MapUpdate struct {
	MapID  string     `json:"map_id"`
	View   *ViewState `json:"view,omitempty"`
	Tokens []Token    `json:"tokens,omitempty"`
}

// EncounterUpdate merges into the active encounter when EncounterID matches it.
// Initiative and StatusEffects replace their lists when non-nil.
type EncounterUpdate struct {
	EncounterID   string           `json:"encounter_id"`
	Active        *bool            `json:"active,omitempty"`
	Round         *int             `json:"round,omitempty"`
	Turn          *int             `json:"turn,omitempty"`
	Initiative    []InitiativeSlot `json:"initiative,omitempty"`
	StatusEffects []StatusEffect   `json:"status_effects,omitempty"`
}

// CurrentSlot returns the initiative slot whose turn it is.
func (e *EncounterState) CurrentSlot() (InitiativeSlot, bool) {
	if e == nil || !e.Active || len(e.Initiative) == 0 {
		return InitiativeSlot{}, false
	}
	if e.Turn < 0 || e.Turn >= len(e.Initiative) {
		return InitiativeSlot{}, false
	}
	return e.Initiative[e.Turn], true
}

// Character returns the roster entry with the supplied id.
func (s *SessionState) Character(id string) (*CharacterSummary, bool) {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return &s.Characters[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so that no slice or map is shared with the receiver.
func (s SessionState) Clone() SessionState {
	out := s
	out.Characters = cloneCharacters(s.Characters)
	out.Map = s.Map.Clone()
	out.Encounter = s.Encounter.Clone()
	if s.PendingActions != nil {
		out.PendingActions = make([]QueuedAction, len(s.PendingActions))
		for i, action := range s.PendingActions {
			out.PendingActions[i] = action.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the map state.
func (m *MapState) Clone() *MapState {
	if m == nil {
		return nil
	}
	out := *m
	if m.Tokens != nil {
		out.Tokens = append([]Token(nil), m.Tokens...)
	}
	return &out
}

// Clone returns a deep copy of the encounter state.
func (e *EncounterState) Clone() *EncounterState {
	if e == nil {
		return nil
	}
	out := *e
	if e.Initiative != nil {
		out.Initiative = append([]InitiativeSlot(nil), e.Initiative...)
	}
	if e.StatusEffects != nil {
		out.StatusEffects = append([]StatusEffect(nil), e.StatusEffects...)
	}
	return &out
}

// Clone returns a deep copy of the roster entry.
func (c CharacterSummary) Clone() CharacterSummary {
	c.Attributes = cloneAttributes(c.Attributes)
	return c
}

func cloneCharacters(characters []CharacterSummary) []CharacterSummary {
	if characters == nil {
		return nil
	}
	out := make([]CharacterSummary, len(characters))
	for i, character := range characters {
		out[i] = character.Clone()
	}
	return out
}

func cloneAttributes(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneAttributes(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}
