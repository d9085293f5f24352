package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/tabletop/pkg/logger"
)

// ConfigureLogging installs the global logger from the server settings. An unknown
// level is rejected so a typo in the config file does not silently drop debug output.
func ConfigureLogging(server ServerConfig) error {
	level := strings.ToLower(strings.TrimSpace(server.LogLevel))
	if level == "" {
		level = "info"
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}

	format := strings.ToLower(strings.TrimSpace(server.LogFormat))
	switch format {
	case "", "json":
		format = "json"
	case "console":
	default:
		return fmt.Errorf("server.log_format: unsupported format %q", server.LogFormat)
	}
	return logger.Init(level, format)
}
