package models

import "gorm.io/datatypes"

// Character is a roster entry of a campaign. ControlledBy holds the player's user id;
// empty means the game master runs it.
type Character struct {
	BaseModel
	CampaignID   string         `gorm:"size:36;not null;index" json:"campaign_id"`
	Name         string         `gorm:"not null" json:"name"`
	ControlledBy string         `gorm:"index" json:"controlled_by"`
	Attributes   datatypes.JSON `json:"attributes,omitempty"`
}
