package config

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the root logger from the log settings. Sub-loggers are
// derived with Named.
func (l LogConfig) NewLogger(name string, w io.Writer) hclog.Logger {
	level := hclog.LevelFromString(l.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     w,
		Color:      hclog.AutoColor,
		JSONFormat: l.JSON,
	})
}
