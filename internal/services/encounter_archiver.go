package services

import (
	"context"

	"github.com/charlesng35/tabletop/internal/session"
)

// EncounterArchiver is an event sink that writes encounter progress back to storage
// when a session ends an encounter.
type EncounterArchiver struct {
	store *EntityStore
}

var _ session.EventSink = (*EncounterArchiver)(nil)

// NewEncounterArchiver wraps the entity store.
func NewEncounterArchiver(store *EntityStore) *EncounterArchiver {
	return &EncounterArchiver{store: store}
}

// Publish implements session.EventSink.
func (a *EncounterArchiver) Publish(ctx context.Context, event session.Event) error {
	if a == nil || a.store == nil || event.Type != session.EncounterEnded {
		return nil
	}
	encounter, ok := event.Data["encounter"].(session.EncounterState)
	if !ok || encounter.EncounterID == "" {
		return nil
	}
	return a.store.SaveEncounterProgress(ctx, encounter)
}
