package session

import "time"

const (
	DefaultMaxParticipants    = 8
	DefaultHeartbeatInterval  = 5 * time.Second
	DefaultHeartbeatThreshold = 3
	DefaultMaxQueueSize       = 100
	DefaultActionTimeout      = 5 * time.Minute
	DefaultSweepInterval      = 60 * time.Second
	DefaultGracePeriod        = 30 * time.Second
)

// Config tunes one session aggregate.
type Config struct {
	MaxParticipants    int
	BroadcastEnabled   bool
	HeartbeatInterval  time.Duration
	HeartbeatThreshold int
	MaxQueueSize       int
	ActionTimeout      time.Duration
	SweepInterval      time.Duration
	GracePeriod        time.Duration
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		MaxParticipants:    DefaultMaxParticipants,
		BroadcastEnabled:   true,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		HeartbeatThreshold: DefaultHeartbeatThreshold,
		MaxQueueSize:       DefaultMaxQueueSize,
		ActionTimeout:      DefaultActionTimeout,
		SweepInterval:      DefaultSweepInterval,
		GracePeriod:        DefaultGracePeriod,
	}
}

// withDefaults replaces zero or negative values with the defaults. BroadcastEnabled is
// taken as given.
func (c Config) withDefaults() Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatThreshold <= 0 {
		c.HeartbeatThreshold = DefaultHeartbeatThreshold
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

func (c Config) authority() AuthorityConfig {
	return AuthorityConfig{
		HeartbeatThreshold: c.HeartbeatThreshold,
		MaxQueueSize:       c.MaxQueueSize,
		ActionTimeout:      c.ActionTimeout,
		SweepInterval:      c.SweepInterval,
		GracePeriod:        c.GracePeriod,
	}
}
