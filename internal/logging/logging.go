// Package logging installs the process wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
)

// Setup makes a charm logger writing to w the slog default and returns it.
// level is one of debug, info, warn or error.
func Setup(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "modinject",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
