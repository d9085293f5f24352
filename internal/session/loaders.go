package session

import "context"

// CampaignSnapshot is the persisted campaign data needed to open a session.
type CampaignSnapshot struct {
	ID                string
	Name              string
	LeaderID          string
	ActiveMapID       string
	ActiveEncounterID string
	Settings          *Settings
}

// EntityLoader resolves persisted entities by id. Implementations return an error
// matching apperrors.ErrNotFound for unknown ids.
type EntityLoader interface {
	LoadCampaign(ctx context.Context, campaignID string) (CampaignSnapshot, error)
	ListCharacters(ctx context.Context, campaignID string) ([]CharacterSummary, error)
	LoadCharacter(ctx context.Context, characterID string) (CharacterSummary, error)
	LoadMap(ctx context.Context, mapID string) (MapState, error)
	LoadEncounter(ctx context.Context, encounterID string) (EncounterState, error)
}
