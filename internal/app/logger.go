package app

import (
	"strings"

	"github.com/eWorkbench/eWorkbench-sub000/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section,
// defaulting to info-level JSON output.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	encoding := strings.TrimSpace(cfg.LogEncoding)
	if encoding == "" {
		encoding = "json"
	}
	return logger.Init(level, encoding)
}
