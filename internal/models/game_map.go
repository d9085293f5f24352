package models

import "gorm.io/datatypes"

// GameMap stores a battle map with its saved viewport and token layout.
type GameMap struct {
	BaseModel
	CampaignID string         `gorm:"size:36;not null;index" json:"campaign_id"`
	Name       string         `gorm:"not null" json:"name"`
	ViewX      float64        `json:"view_x"`
	ViewY      float64        `json:"view_y"`
	Zoom       float64        `gorm:"not null;default:1" json:"zoom"`
	Tokens     datatypes.JSON `json:"tokens,omitempty"`
}
