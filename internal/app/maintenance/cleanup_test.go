package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/charlesng35/tabletop/internal/database/testutil"
	"github.com/charlesng35/tabletop/internal/models"
	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db         *gorm.DB
	clock      *testClock
	manager    *session.Manager
	journal    *services.EventJournal
	campaignID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{now: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}

	campaign := models.Campaign{Name: "Night watch", LeaderID: "gm"}
	require.NoError(t, db.Create(&campaign).Error)

	store, err := services.NewEntityStore(db)
	require.NoError(t, err)
	journal, err := services.NewEventJournal(db, services.WithJournalClock(clock.Now))
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.GracePeriod = time.Minute
	manager, err := session.NewManager(session.NewRules(), store, cfg,
		session.WithManagerClock(clock.Now),
		session.WithManagerEventSink(journal),
	)
	require.NoError(t, err)
	t.Cleanup(func() { manager.CloseAll() })

	return fixture{db: db, clock: clock, manager: manager, journal: journal, campaignID: campaign.ID}
}

func TestCleanerRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle, err := f.manager.Open(ctx, "idle-table", f.campaignID)
	require.NoError(t, err)
	busy, err := f.manager.Open(ctx, "busy-table", f.campaignID)
	require.NoError(t, err)
	_, err = busy.Join(ctx, session.JoinParams{ParticipantID: "gm", ConnectionID: "conn-gm"})
	require.NoError(t, err)

	require.NoError(t, f.journal.Publish(ctx, session.Event{
		SessionID:  "old-table",
		Type:       session.SessionDisposed,
		OccurredAt: f.clock.Now().AddDate(0, 0, -10),
	}))

	cleaner := NewCleaner(f.manager, f.journal, WithJournalRetentionDays(7), WithNow(f.clock.Now))

	require.NoError(t, cleaner.RunOnce(ctx))
	require.ElementsMatch(t, []string{"busy-table", "idle-table"}, f.manager.List())

	old, err := f.journal.List(ctx, services.JournalFilters{SessionID: "old-table"})
	require.NoError(t, err)
	require.Empty(t, old)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, busy.HandleLeaderHeartbeat(ctx, "gm"))

	require.NoError(t, cleaner.RunOnce(ctx))
	require.True(t, idle.Disposed())
	require.Equal(t, []string{"busy-table"}, f.manager.List())

	joined, err := f.journal.List(ctx, services.JournalFilters{SessionID: "busy-table", Type: session.ParticipantJoined})
	require.NoError(t, err)
	require.Len(t, joined, 1)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	f := newFixture(t)

	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(f.manager, f.journal,
		WithCron(scheduler),
		WithReapSchedule("@every 1m"),
		WithJournalSchedule("@hourly"),
	)

	require.NoError(t, cleaner.Start())
	t.Cleanup(func() { <-cleaner.Stop().Done() })

	require.Len(t, scheduler.Entries(), 2)
}

func TestCleanerRejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)

	cleaner := NewCleaner(f.manager, nil,
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
		WithReapSchedule("not a schedule"),
	)
	require.Error(t, cleaner.Start())
}

func TestCleanerWithoutDependenciesIsNoop(t *testing.T) {
	cleaner := NewCleaner(nil, nil)
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
	<-cleaner.Stop().Done()
}
