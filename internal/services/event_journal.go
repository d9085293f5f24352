package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/tabletop/internal/models"
	"github.com/charlesng35/tabletop/internal/session"
)

const (
	defaultJournalPageSize = 100
	maxJournalPageSize     = 500
)

// JournalFilters narrows journal queries.
type JournalFilters struct {
	SessionID string
	Type      session.EventType
	Since     *time.Time
	Limit     int
}

// EventJournal persists session domain events.
type EventJournal struct {
	db  *gorm.DB
	now func() time.Time
}

var _ session.EventSink = (*EventJournal)(nil)

// JournalOption customises the journal.
type JournalOption func(*EventJournal)

// WithJournalClock overrides the clock used for retention cutoffs.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *EventJournal) {
		if now != nil {
			j.now = now
		}
	}
}

// NewEventJournal constructs an EventJournal using the provided database handle.
func NewEventJournal(db *gorm.DB, opts ...JournalOption) (*EventJournal, error) {
	if db == nil {
		return nil, errors.New("event journal: db is required")
	}
	journal := &EventJournal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(journal)
	}
	return journal, nil
}

// Publish implements session.EventSink.
func (j *EventJournal) Publish(ctx context.Context, event session.Event) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(event.SessionID) == "" {
		return errors.New("event journal: session id is required")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return errors.New("event journal: event type is required")
	}

	data, err := encodeJSON(event.Data)
	if err != nil {
		return fmt.Errorf("event journal: %w", err)
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = j.now()
	}

	record := models.SessionEvent{
		ID:            event.ID,
		SessionID:     event.SessionID,
		CampaignID:    event.CampaignID,
		Type:          string(event.Type),
		ParticipantID: event.ParticipantID,
		StateVersion:  event.StateVersion,
		Data:          data,
		OccurredAt:    occurred,
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("event journal: persist %s: %w", event.Type, err)
	}
	return nil
}

// List returns journal entries in the order they occurred.
func (j *EventJournal) List(ctx context.Context, filters JournalFilters) ([]models.SessionEvent, error) {
	ctx = ensureContext(ctx)

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultJournalPageSize
	}
	if limit > maxJournalPageSize {
		limit = maxJournalPageSize
	}

	query := j.db.WithContext(ctx).Model(&models.SessionEvent{})
	if filters.SessionID != "" {
		query = query.Where("session_id = ?", filters.SessionID)
	}
	if filters.Type != "" {
		query = query.Where("type = ?", string(filters.Type))
	}
	if filters.Since != nil {
		query = query.Where("occurred_at >= ?", *filters.Since)
	}

	var events []models.SessionEvent
	if err := query.Order("occurred_at ASC, created_at ASC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("event journal: list events: %w", err)
	}
	return events, nil
}

// CleanupOlderThan removes journal entries older than the retention window (in days).
func (j *EventJournal) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("event journal: retentionDays must be positive")
	}

	cutoff := j.now().AddDate(0, 0, -retentionDays)

	result := j.db.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&models.SessionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("event journal: cleanup events: %w", result.Error)
	}

	return result.RowsAffected, nil
}
