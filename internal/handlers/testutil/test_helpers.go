package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/api"
	"github.com/charlesng35/tabletop/internal/app"
	sharedtestutil "github.com/charlesng35/tabletop/internal/database/testutil"
	"github.com/charlesng35/tabletop/internal/models"
	"github.com/charlesng35/tabletop/internal/realtime"
	"github.com/charlesng35/tabletop/internal/rules"
	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
	"github.com/charlesng35/tabletop/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Router  *gin.Engine
	Manager *session.Manager
	Hub     *realtime.Hub
	Journal *services.EventJournal
	Server  *httptest.Server
}

// Campaign holds the ids of a seeded campaign.
type Campaign struct {
	ID          string
	LeaderID    string
	MapID       string
	EncounterID string
	CharacterID map[string]string
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	store, err := services.NewEntityStore(db)
	require.NoError(t, err)
	journal, err := services.NewEventJournal(db)
	require.NoError(t, err)

	registry := session.NewRules()
	registry.MustRegisterPlugin(rules.NewCore())

	hub := realtime.NewHub()
	manager, err := session.NewManager(registry, store, session.DefaultConfig(),
		session.WithManagerTransport(realtime.NewTransport(hub)),
		session.WithManagerEventSink(session.MultiSink{journal, services.NewEncounterArchiver(store)}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		manager.CloseAll()
	})

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:      db,
		Manager: manager,
		Hub:     hub,
		Journal: journal,
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Router:  router,
		Manager: manager,
		Hub:     hub,
		Journal: journal,
	}
}

// SeedCampaign inserts a campaign led by leaderID with one character per player, an
// active map holding a visible and a hidden token, and a prepared encounter.
func (e *Env) SeedCampaign(leaderID string, players ...string) Campaign {
	e.T.Helper()

	campaign := models.Campaign{Name: "Seeded campaign", LeaderID: leaderID}
	require.NoError(e.T, e.DB.Create(&campaign).Error)

	out := Campaign{ID: campaign.ID, LeaderID: leaderID, CharacterID: make(map[string]string, len(players))}
	var tokens []session.Token
	var initiative []session.InitiativeSlot
	for i, player := range players {
		character := models.Character{
			CampaignID:   campaign.ID,
			Name:         "Hero of " + player,
			ControlledBy: player,
			Attributes:   mustJSON(e.T, map[string]any{"hp": 10}),
		}
		require.NoError(e.T, e.DB.Create(&character).Error)
		out.CharacterID[player] = character.ID
		tokens = append(tokens, session.Token{ID: "tok-" + player, CharacterID: character.ID, X: float64(i), Y: 0})
		initiative = append(initiative, session.InitiativeSlot{CharacterID: character.ID, Initiative: 20 - i})
	}
	tokens = append(tokens, session.Token{ID: "tok-ambush", X: 9, Y: 9, Hidden: true})

	gameMap := models.GameMap{CampaignID: campaign.ID, Name: "Seeded map", Zoom: 1, Tokens: mustJSON(e.T, tokens)}
	require.NoError(e.T, e.DB.Create(&gameMap).Error)
	encounter := models.Encounter{CampaignID: campaign.ID, Name: "Seeded encounter", Initiative: mustJSON(e.T, initiative)}
	require.NoError(e.T, e.DB.Create(&encounter).Error)

	require.NoError(e.T, e.DB.Model(&campaign).Update("active_map_id", gameMap.ID).Error)

	out.MapID = gameMap.ID
	out.EncounterID = encounter.ID
	return out
}

// OpenSession opens a live session for the campaign directly through the manager.
func (e *Env) OpenSession(sessionID, campaignID string) *session.Session {
	e.T.Helper()
	sess, err := e.Manager.Open(context.Background(), sessionID, campaignID)
	require.NoError(e.T, err)
	return sess
}

// StartServer serves the router over a real listener, for websocket tests.
func (e *Env) StartServer() *httptest.Server {
	e.T.Helper()
	if e.Server == nil {
		e.Server = httptest.NewServer(e.Router)
		e.T.Cleanup(e.Server.Close)
	}
	return e.Server
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding automatically.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}
