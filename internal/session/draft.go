package session

// Draft is the working copy a handler mutates during Execute. Changes are committed to
// the session only when Execute returns without error.
type Draft struct {
	state   SessionState
	changes []StateChange
}

// NewDraft returns a draft over a deep copy of state.
func NewDraft(state SessionState) *Draft {
	return &Draft{state: state.Clone()}
}

// State exposes the working copy. Characters, Map and Encounter are committed; the
// remaining fields are read-only for handlers.
func (d *Draft) State() *SessionState {
	return &d.state
}

// Character returns the mutable roster entry with the supplied id.
func (d *Draft) Character(id string) (*CharacterSummary, bool) {
	return d.state.Character(id)
}

// Token returns the mutable token on the active map for the supplied character.
func (d *Draft) Token(characterID string) (*Token, bool) {
	if d.state.Map == nil {
		return nil, false
	}
	for i := range d.state.Map.Tokens {
		if d.state.Map.Tokens[i].CharacterID == characterID {
			return &d.state.Map.Tokens[i], true
		}
	}
	return nil, false
}

// Record appends a change description reported back in the action result.
func (d *Draft) Record(path, op string, value any) {
	d.changes = append(d.changes, StateChange{Path: path, Op: op, Value: value})
}

// Changes returns the recorded changes in order.
func (d *Draft) Changes() []StateChange {
	return append([]StateChange(nil), d.changes...)
}

func (d *Draft) touched(prefix string) bool {
	for _, change := range d.changes {
		if len(change.Path) >= len(prefix) && change.Path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (d *Draft) applyTo(state SessionState) SessionState {
	state.Characters = d.state.Characters
	state.Map = d.state.Map
	state.Encounter = d.state.Encounter
	return state
}
