package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/tabletop/internal/services"
	"github.com/charlesng35/tabletop/internal/session"
	"github.com/charlesng35/tabletop/pkg/logger"
)

const (
	defaultJournalRetentionDays = 30
	defaultReapSchedule         = "@every 30s"
	defaultJournalSchedule      = "@daily"
)

// Cleaner coordinates background maintenance tasks such as reaping abandoned sessions
// and pruning the event journal.
type Cleaner struct {
	manager   *session.Manager
	journal   *services.EventJournal
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	reapSchedule    string
	journalSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to report run timings.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithJournalRetentionDays adjusts how long journal entries are kept.
func WithJournalRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithReapSchedule overrides the cron schedule for abandoned session reaping.
func WithReapSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.reapSchedule = schedule
		}
	}
}

// WithJournalSchedule overrides the cron schedule for journal retention.
func WithJournalSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.journalSchedule = schedule
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(manager *session.Manager, journal *services.EventJournal, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		manager:         manager,
		journal:         journal,
		now:             time.Now,
		retention:       defaultJournalRetentionDays,
		reapSchedule:    defaultReapSchedule,
		journalSchedule: defaultJournalSchedule,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.manager != nil || cleaner.journal != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.manager != nil {
		if _, err := c.cron.AddFunc(c.reapSchedule, func() {
			c.reap(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.journal != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.journalSchedule, func() {
			if _, err := c.pruneJournal(context.Background()); err != nil {
				c.log.Warn("journal cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used in tests and during
// graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.manager != nil {
		c.reap(ctx)
	}

	if c.journal != nil && c.retention > 0 {
		if _, err := c.pruneJournal(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) reap(ctx context.Context) []string {
	reaped := c.manager.ReapAbandoned(ctx)
	for _, id := range reaped {
		c.log.Info("abandoned session closed", zap.String("session_id", id))
	}
	return reaped
}

func (c *Cleaner) pruneJournal(ctx context.Context) (int64, error) {
	started := c.now()
	removed, err := c.journal.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Info("journal pruned",
			zap.Int64("removed", removed),
			zap.Int("retention_days", c.retention),
			zap.Duration("took", c.now().Sub(started)),
		)
	}
	return removed, nil
}
