package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/database/testutil"
	"github.com/charlesng35/tabletop/internal/models"
	"github.com/charlesng35/tabletop/internal/session"
	apperrors "github.com/charlesng35/tabletop/pkg/errors"
)

type campaignFixture struct {
	campaign  models.Campaign
	fighter   models.Character
	wizard    models.Character
	gameMap   models.GameMap
	encounter models.Encounter
}

func mustJSON(t *testing.T, v any) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

func seedCampaign(t *testing.T, db *gorm.DB) campaignFixture {
	t.Helper()

	f := campaignFixture{}
	f.campaign = models.Campaign{
		Name:     "Ashes of the Vale",
		LeaderID: "gm",
		Settings: mustJSON(t, map[string]any{"chat_enabled": false}),
	}
	require.NoError(t, db.Create(&f.campaign).Error)

	f.wizard = models.Character{
		CampaignID:   f.campaign.ID,
		Name:         "Wizard",
		ControlledBy: "bob",
		Attributes:   mustJSON(t, map[string]any{"hp": 7}),
	}
	f.fighter = models.Character{
		CampaignID:   f.campaign.ID,
		Name:         "Fighter",
		ControlledBy: "alice",
		Attributes:   mustJSON(t, map[string]any{"hp": 12, "class": "fighter"}),
	}
	require.NoError(t, db.Create(&f.wizard).Error)
	require.NoError(t, db.Create(&f.fighter).Error)

	f.gameMap = models.GameMap{
		CampaignID: f.campaign.ID,
		Name:       "Crossroads",
		ViewX:      10,
		ViewY:      20,
		Zoom:       1.5,
		Tokens: mustJSON(t, []session.Token{
			{ID: "t1", CharacterID: f.fighter.ID, X: 1, Y: 2},
			{ID: "t2", X: 8, Y: 8, Hidden: true},
		}),
	}
	require.NoError(t, db.Create(&f.gameMap).Error)

	f.encounter = models.Encounter{
		CampaignID: f.campaign.ID,
		Name:       "Bandit ambush",
		Initiative: mustJSON(t, []session.InitiativeSlot{
			{CharacterID: f.fighter.ID, Initiative: 17},
			{CharacterID: f.wizard.ID, Initiative: 9},
		}),
	}
	require.NoError(t, db.Create(&f.encounter).Error)

	require.NoError(t, db.Model(&f.campaign).Updates(map[string]any{
		"active_map_id":       f.gameMap.ID,
		"active_encounter_id": f.encounter.ID,
	}).Error)
	return f
}

func newTestStore(t *testing.T) (*EntityStore, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewEntityStore(db)
	require.NoError(t, err)
	return store, db
}

func TestNewEntityStoreRequiresDB(t *testing.T) {
	_, err := NewEntityStore(nil)
	require.Error(t, err)
}

func TestEntityStoreLoadsCampaign(t *testing.T) {
	store, db := newTestStore(t)
	f := seedCampaign(t, db)
	ctx := context.Background()

	snapshot, err := store.LoadCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, "Ashes of the Vale", snapshot.Name)
	require.Equal(t, "gm", snapshot.LeaderID)
	require.Equal(t, f.gameMap.ID, snapshot.ActiveMapID)
	require.Equal(t, f.encounter.ID, snapshot.ActiveEncounterID)
	require.NotNil(t, snapshot.Settings)
	require.False(t, snapshot.Settings.ChatEnabled)
	require.True(t, snapshot.Settings.AllowPlayerActions, "unsaved toggles keep their defaults")

	_, err = store.LoadCampaign(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityStoreListsAndLoadsCharacters(t *testing.T) {
	store, db := newTestStore(t)
	f := seedCampaign(t, db)
	ctx := context.Background()

	roster, err := store.ListCharacters(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.Equal(t, "Fighter", roster[0].Name)
	require.Equal(t, "alice", roster[0].ControlledBy)
	require.Equal(t, float64(12), roster[0].Attributes["hp"])
	require.Equal(t, "Wizard", roster[1].Name)

	wizard, err := store.LoadCharacter(ctx, f.wizard.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", wizard.ControlledBy)
	require.False(t, wizard.Online)

	_, err = store.LoadCharacter(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	empty, err := store.ListCharacters(ctx, "no-such-campaign")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEntityStoreLoadsMapAndEncounter(t *testing.T) {
	store, db := newTestStore(t)
	f := seedCampaign(t, db)
	ctx := context.Background()

	m, err := store.LoadMap(ctx, f.gameMap.ID)
	require.NoError(t, err)
	require.Equal(t, "Crossroads", m.Name)
	require.Equal(t, session.ViewState{X: 10, Y: 20, Zoom: 1.5}, m.View)
	require.Len(t, m.Tokens, 2)
	require.True(t, m.Tokens[1].Hidden)

	enc, err := store.LoadEncounter(ctx, f.encounter.ID)
	require.NoError(t, err)
	require.Equal(t, "Bandit ambush", enc.Name)
	require.False(t, enc.Active)
	require.Len(t, enc.Initiative, 2)
	require.Equal(t, f.fighter.ID, enc.Initiative[0].CharacterID)

	_, err = store.LoadMap(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = store.LoadEncounter(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityStoreSaveEncounterProgress(t *testing.T) {
	store, db := newTestStore(t)
	f := seedCampaign(t, db)
	ctx := context.Background()

	enc, err := store.LoadEncounter(ctx, f.encounter.ID)
	require.NoError(t, err)
	enc.Round = 3
	enc.Turn = 1
	enc.StatusEffects = []session.StatusEffect{{ID: "e1", CharacterID: f.wizard.ID, Name: "Slowed", RemainingRounds: 2}}

	archiver := NewEncounterArchiver(store)
	require.NoError(t, archiver.Publish(ctx, session.Event{Type: session.EncounterUpdated, Data: map[string]any{"encounter": enc}}))
	unchanged, err := store.LoadEncounter(ctx, f.encounter.ID)
	require.NoError(t, err)
	require.Zero(t, unchanged.Round)

	require.NoError(t, archiver.Publish(ctx, session.Event{Type: session.EncounterEnded, Data: map[string]any{"encounter": enc}}))
	saved, err := store.LoadEncounter(ctx, f.encounter.ID)
	require.NoError(t, err)
	require.Equal(t, 3, saved.Round)
	require.Equal(t, 1, saved.Turn)
	require.Len(t, saved.StatusEffects, 1)

	err = store.SaveEncounterProgress(ctx, session.EncounterState{EncounterID: "missing"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManagerOpensSessionFromStore(t *testing.T) {
	store, db := newTestStore(t)
	f := seedCampaign(t, db)

	manager, err := session.NewManager(session.NewRules(), store, session.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { manager.CloseAll() })

	sess, err := manager.Open(context.Background(), "table-1", f.campaign.ID)
	require.NoError(t, err)

	state := sess.State()
	require.Equal(t, "gm", state.LeaderID)
	require.Len(t, state.Characters, 2)
	require.NotNil(t, state.Map)
	require.Equal(t, f.gameMap.ID, state.Map.MapID)
	require.NotNil(t, state.Encounter)
	require.False(t, state.Settings.ChatEnabled)
}
