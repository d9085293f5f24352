package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/models"
	"github.com/charlesng35/tabletop/internal/session"
)

// EntityStore resolves persisted campaign content for live sessions.
type EntityStore struct {
	db *gorm.DB
}

var _ session.EntityLoader = (*EntityStore)(nil)

// NewEntityStore constructs an EntityStore using the provided database handle.
func NewEntityStore(db *gorm.DB) (*EntityStore, error) {
	if db == nil {
		return nil, errors.New("entity store: db is required")
	}
	return &EntityStore{db: db}, nil
}

// LoadCampaign returns the campaign header. Stored settings are merged over the
// session defaults so partially saved toggles keep their default values.
func (s *EntityStore) LoadCampaign(ctx context.Context, campaignID string) (session.CampaignSnapshot, error) {
	ctx = ensureContext(ctx)
	campaignID = strings.TrimSpace(campaignID)

	var campaign models.Campaign
	if err := s.db.WithContext(ctx).Take(&campaign, "id = ?", campaignID).Error; err != nil {
		return session.CampaignSnapshot{}, notFound(err, "campaign", campaignID)
	}

	snapshot := session.CampaignSnapshot{
		ID:       campaign.ID,
		Name:     campaign.Name,
		LeaderID: campaign.LeaderID,
	}
	if campaign.ActiveMapID != nil {
		snapshot.ActiveMapID = *campaign.ActiveMapID
	}
	if campaign.ActiveEncounterID != nil {
		snapshot.ActiveEncounterID = *campaign.ActiveEncounterID
	}
	if len(campaign.Settings) > 0 {
		settings := session.DefaultSettings()
		if err := decodeJSON(campaign.Settings, &settings); err != nil {
			return session.CampaignSnapshot{}, fmt.Errorf("entity store: campaign %s settings: %w", campaignID, err)
		}
		snapshot.Settings = &settings
	}
	return snapshot, nil
}

// ListCharacters returns the campaign roster ordered by name.
func (s *EntityStore) ListCharacters(ctx context.Context, campaignID string) ([]session.CharacterSummary, error) {
	ctx = ensureContext(ctx)

	var characters []models.Character
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Order("name ASC, id ASC").
		Find(&characters).Error; err != nil {
		return nil, fmt.Errorf("entity store: list characters: %w", err)
	}

	out := make([]session.CharacterSummary, 0, len(characters))
	for _, character := range characters {
		summary, err := toCharacterSummary(character)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// LoadCharacter returns one character by id.
func (s *EntityStore) LoadCharacter(ctx context.Context, characterID string) (session.CharacterSummary, error) {
	ctx = ensureContext(ctx)
	characterID = strings.TrimSpace(characterID)

	var character models.Character
	if err := s.db.WithContext(ctx).Take(&character, "id = ?", characterID).Error; err != nil {
		return session.CharacterSummary{}, notFound(err, "character", characterID)
	}
	return toCharacterSummary(character)
}

// LoadMap returns a map with its saved view and tokens.
func (s *EntityStore) LoadMap(ctx context.Context, mapID string) (session.MapState, error) {
	ctx = ensureContext(ctx)
	mapID = strings.TrimSpace(mapID)

	var record models.GameMap
	if err := s.db.WithContext(ctx).Take(&record, "id = ?", mapID).Error; err != nil {
		return session.MapState{}, notFound(err, "map", mapID)
	}

	state := session.MapState{
		MapID: record.ID,
		Name:  record.Name,
		View:  session.ViewState{X: record.ViewX, Y: record.ViewY, Zoom: record.Zoom},
	}
	if state.View.Zoom <= 0 {
		state.View.Zoom = 1
	}
	if err := decodeJSON(record.Tokens, &state.Tokens); err != nil {
		return session.MapState{}, fmt.Errorf("entity store: map %s tokens: %w", mapID, err)
	}
	return state, nil
}

// LoadEncounter returns a prepared encounter. The session decides whether it is active.
func (s *EntityStore) LoadEncounter(ctx context.Context, encounterID string) (session.EncounterState, error) {
	ctx = ensureContext(ctx)
	encounterID = strings.TrimSpace(encounterID)

	var record models.Encounter
	if err := s.db.WithContext(ctx).Take(&record, "id = ?", encounterID).Error; err != nil {
		return session.EncounterState{}, notFound(err, "encounter", encounterID)
	}

	state := session.EncounterState{
		EncounterID: record.ID,
		Name:        record.Name,
		Round:       record.Round,
		Turn:        record.Turn,
	}
	if err := decodeJSON(record.Initiative, &state.Initiative); err != nil {
		return session.EncounterState{}, fmt.Errorf("entity store: encounter %s initiative: %w", encounterID, err)
	}
	if err := decodeJSON(record.StatusEffects, &state.StatusEffects); err != nil {
		return session.EncounterState{}, fmt.Errorf("entity store: encounter %s status effects: %w", encounterID, err)
	}
	return state, nil
}

// SaveEncounterProgress writes the round, turn and effects of a live encounter back to
// its record so it can be resumed in a later session.
func (s *EntityStore) SaveEncounterProgress(ctx context.Context, state session.EncounterState) error {
	ctx = ensureContext(ctx)

	effects, err := encodeJSON(state.StatusEffects)
	if err != nil {
		return err
	}
	initiative, err := encodeJSON(state.Initiative)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Encounter{}).
		Where("id = ?", state.EncounterID).
		Updates(map[string]any{
			"round":          state.Round,
			"turn":           state.Turn,
			"initiative":     initiative,
			"status_effects": effects,
		})
	if result.Error != nil {
		return fmt.Errorf("entity store: save encounter %s: %w", state.EncounterID, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "encounter", state.EncounterID)
	}
	return nil
}

func toCharacterSummary(character models.Character) (session.CharacterSummary, error) {
	summary := session.CharacterSummary{
		ID:           character.ID,
		Name:         character.Name,
		ControlledBy: character.ControlledBy,
	}
	if err := decodeJSON(character.Attributes, &summary.Attributes); err != nil {
		return session.CharacterSummary{}, fmt.Errorf("entity store: character %s attributes: %w", character.ID, err)
	}
	return summary, nil
}
