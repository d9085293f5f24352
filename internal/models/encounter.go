package models

import "gorm.io/datatypes"

// Encounter stores a prepared or suspended combat.
type Encounter struct {
	BaseModel
	CampaignID    string         `gorm:"size:36;not null;index" json:"campaign_id"`
	Name          string         `gorm:"not null" json:"name"`
	Round         int            `gorm:"not null;default:0" json:"round"`
	Turn          int            `gorm:"not null;default:0" json:"turn"`
	Initiative    datatypes.JSON `json:"initiative,omitempty"`
	StatusEffects datatypes.JSON `json:"status_effects,omitempty"`
}
