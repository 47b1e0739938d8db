package shared

import (
	"os"

	"github.com/charmbracelet/log"
)

// SetupLogger builds the root logger. The debug flag wins over the configured
// level string; an unknown level falls back to info.
func SetupLogger(debug bool, level string) *log.Logger {
	lvl := log.InfoLevel
	if level != "" {
		if parsed, err := log.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	if debug {
		lvl = log.DebugLevel
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
	})
}
