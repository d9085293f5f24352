package models

import "gorm.io/datatypes"

// Campaign is the persisted game a live session is opened from.
type Campaign struct {
	BaseModel
	Name              string         `gorm:"not null" json:"name"`
	Description       string         `json:"description"`
	LeaderID          string         `gorm:"not null;index" json:"leader_id"`
	ActiveMapID       *string        `gorm:"size:36" json:"active_map_id,omitempty"`
	ActiveEncounterID *string        `gorm:"size:36" json:"active_encounter_id,omitempty"`
	Settings          datatypes.JSON `json:"settings,omitempty"`

	Characters []Character `gorm:"foreignKey:CampaignID" json:"characters,omitempty"`
	Maps       []GameMap   `gorm:"foreignKey:CampaignID" json:"maps,omitempty"`
	Encounters []Encounter `gorm:"foreignKey:CampaignID" json:"encounters,omitempty"`
}
