package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

const (
	testSessionID  = "sess-1"
	testCampaignID = "camp-1"
	testLeaderID   = "gm"
	testPluginID   = "test"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentPayload struct {
	ConnectionID string
	Payload      Payload
}

type broadcastPayload struct {
	SessionID string
	Payload   Payload
	Exclude   []string
}

type fakeTransport struct {
	mu         sync.Mutex
	sent       []sentPayload
	broadcasts []broadcastPayload
	err        error
}

func (f *fakeTransport) SendToConnection(connectionID string, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentPayload{ConnectionID: connectionID, Payload: payload})
	return nil
}

func (f *fakeTransport) BroadcastToSession(sessionID string, payload Payload, exclude ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.broadcasts = append(f.broadcasts, broadcastPayload{SessionID: sessionID, Payload: payload, Exclude: exclude})
	return nil
}

func (f *fakeTransport) sentTo(connectionID, event string) []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Payload
	for _, s := range f.sent {
		if s.ConnectionID == connectionID && s.Payload.Event == event {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (f *fakeTransport) broadcastsOf(event string) []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Payload
	for _, b := range f.broadcasts {
		if b.Payload.Event == event {
			out = append(out, b.Payload)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, event := range r.events {
		out[i] = event.Type
	}
	return out
}

type fakeLoader struct {
	campaigns  map[string]CampaignSnapshot
	characters map[string]CharacterSummary
	roster     map[string][]CharacterSummary
	maps       map[string]MapState
	encounters map[string]EncounterState
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		campaigns: map[string]CampaignSnapshot{
			testCampaignID: {ID: testCampaignID, Name: "Lost Mine", LeaderID: testLeaderID, ActiveMapID: "map-1"},
		},
		characters: map[string]CharacterSummary{
			"c3": {ID: "c3", Name: "Bard", Attributes: map[string]any{"hp": 9}},
		},
		roster: map[string][]CharacterSummary{
			testCampaignID: {
				{ID: "c1", Name: "Fighter", Attributes: map[string]any{"hp": 12}},
				{ID: "c2", Name: "Wizard", Attributes: map[string]any{"hp": 7}},
			},
		},
		maps: map[string]MapState{
			"map-1": {MapID: "map-1", Name: "Cave", View: ViewState{Zoom: 1}},
			"map-2": {MapID: "map-2", Name: "Town", View: ViewState{Zoom: 1}},
		},
		encounters: map[string]EncounterState{
			"enc-1": {EncounterID: "enc-1", Name: "Goblins", Initiative: []InitiativeSlot{
				{CharacterID: "c1", Initiative: 18},
				{CharacterID: "c2", Initiative: 11},
			}},
		},
	}
}

func notFound(kind, id string) error {
	return apperrors.ErrNotFound.WithMessage(fmt.Sprintf("%s %s not found", kind, id))
}

func (f *fakeLoader) LoadCampaign(_ context.Context, id string) (CampaignSnapshot, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return CampaignSnapshot{}, notFound("campaign", id)
	}
	return c, nil
}

func (f *fakeLoader) ListCharacters(_ context.Context, campaignID string) ([]CharacterSummary, error) {
	return cloneCharacters(f.roster[campaignID]), nil
}

func (f *fakeLoader) LoadCharacter(_ context.Context, id string) (CharacterSummary, error) {
	c, ok := f.characters[id]
	if !ok {
		return CharacterSummary{}, notFound("character", id)
	}
	return c.Clone(), nil
}

func (f *fakeLoader) LoadMap(_ context.Context, id string) (MapState, error) {
	m, ok := f.maps[id]
	if !ok {
		return MapState{}, notFound("map", id)
	}
	return *m.Clone(), nil
}

func (f *fakeLoader) LoadEncounter(_ context.Context, id string) (EncounterState, error) {
	e, ok := f.encounters[id]
	if !ok {
		return EncounterState{}, notFound("encounter", id)
	}
	return *e.Clone(), nil
}

type testPlugin struct {
	mu       sync.Mutex
	contexts []ActionContext
}

var errBoom = errors.New("boom")

func (p *testPlugin) ID() string { return testPluginID }

func (p *testPlugin) record(actx ActionContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = append(p.contexts, actx)
}

func (p *testPlugin) lastContext() ActionContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[len(p.contexts)-1]
}

func (p *testPlugin) Handlers() map[string]Handler {
	return map[string]Handler{
		"inc": HandlerFuncs{
			ValidateFunc: func(_ context.Context, req ActionRequest, state SessionState, actx ActionContext) ValidationResult {
				p.record(actx)
				if _, ok := state.Character(req.CharacterID); !ok {
					return Invalid("unknown character")
				}
				return Valid()
			},
			ExecuteFunc: func(_ context.Context, req ActionRequest, draft *Draft, _ ActionContext) error {
				character, _ := draft.Character(req.CharacterID)
				if character.Attributes == nil {
					character.Attributes = map[string]any{}
				}
				count, _ := character.Attributes["count"].(int)
				character.Attributes["count"] = count + 1
				draft.Record("characters."+req.CharacterID+".count", "set", count+1)
				return nil
			},
		},
		"fail": HandlerFuncs{
			ExecuteFunc: func(_ context.Context, req ActionRequest, draft *Draft, _ ActionContext) error {
				if character, ok := draft.Character(req.CharacterID); ok {
					character.Name = "mutated"
				}
				return errBoom
			},
		},
		"deny": HandlerFuncs{
			ValidateFunc: func(context.Context, ActionRequest, SessionState, ActionContext) ValidationResult {
				return Invalid("not allowed")
			},
		},
		"move": HandlerFuncs{
			ExecuteFunc: func(_ context.Context, req ActionRequest, draft *Draft, _ ActionContext) error {
				state := draft.State()
				state.Map.Tokens = append(state.Map.Tokens, Token{ID: req.ID, CharacterID: req.CharacterID})
				draft.Record("map.tokens", "append", req.ID)
				return nil
			},
		},
	}
}

type harness struct {
	session   *Session
	transport *fakeTransport
	clock     *fakeClock
	sink      *recordingSink
	plugin    *testPlugin
	loader    *fakeLoader
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	return newHarnessWith(t, nil, mutate...)
}

func newHarnessWith(t *testing.T, opts []Option, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		transport: &fakeTransport{},
		clock:     newFakeClock(),
		sink:      &recordingSink{},
		plugin:    &testPlugin{},
		loader:    newFakeLoader(),
	}
	rules := NewRules()
	require.NoError(t, rules.RegisterPlugin(h.plugin))

	var seq int
	var seqMu sync.Mutex
	nextID := func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}

	initial := SessionState{
		SessionID:  testSessionID,
		CampaignID: testCampaignID,
		LeaderID:   testLeaderID,
		Characters: cloneCharacters(h.loader.roster[testCampaignID]),
		Map:        &MapState{MapID: "map-1", View: ViewState{Zoom: 1}},
		Settings:   DefaultSettings(),
	}
	options := []Option{
		WithTransport(h.transport),
		WithEventSink(h.sink),
		WithLoader(h.loader),
		WithClock(h.clock.Now),
		WithIDGenerator(nextID),
	}
	sess, err := New(initial, rules, cfg, append(options, opts...)...)
	require.NoError(t, err)
	t.Cleanup(sess.Dispose)
	h.session = sess
	return h
}

func (h *harness) join(t *testing.T, participantID, characterID string) SessionState {
	t.Helper()
	state, err := h.session.Join(context.Background(), JoinParams{
		ParticipantID: participantID,
		ConnectionID:  "conn-" + participantID,
		CharacterID:   characterID,
	})
	require.NoError(t, err)
	return state
}

func incRequest(id, characterID string) ActionRequest {
	return ActionRequest{ID: id, Type: "inc", PluginID: testPluginID, CharacterID: characterID}
}
