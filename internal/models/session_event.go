package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionEvent is one journal entry of a live session.
type SessionEvent struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string         `gorm:"not null;index" json:"session_id"`
	CampaignID    string         `gorm:"index" json:"campaign_id"`
	Type          string         `gorm:"not null;index" json:"type"`
	ParticipantID string         `gorm:"index" json:"participant_id,omitempty"`
	StateVersion  string         `json:"state_version"`
	Data          datatypes.JSON `json:"data,omitempty"`
	OccurredAt    time.Time      `gorm:"not null;index" json:"occurred_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BeforeCreate assigns a random identifier to entries published without one.
func (e *SessionEvent) BeforeCreate(*gorm.DB) error {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
