package app

import "github.com/charlesng35/tabletop/internal/session"

// SessionConfig adapts the loaded settings to the session aggregate tuning. Zero or
// negative values fall back to the session defaults.
func (s SessionSettings) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.BroadcastEnabled = s.BroadcastEnabled
	if s.MaxParticipants > 0 {
		cfg.MaxParticipants = s.MaxParticipants
	}
	if s.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = s.HeartbeatInterval
	}
	if s.HeartbeatThreshold > 0 {
		cfg.HeartbeatThreshold = s.HeartbeatThreshold
	}
	if s.MaxQueueSize > 0 {
		cfg.MaxQueueSize = s.MaxQueueSize
	}
	if s.ActionTimeout > 0 {
		cfg.ActionTimeout = s.ActionTimeout
	}
	if s.SweepInterval > 0 {
		cfg.SweepInterval = s.SweepInterval
	}
	if s.GracePeriod > 0 {
		cfg.GracePeriod = s.GracePeriod
	}
	return cfg
}
