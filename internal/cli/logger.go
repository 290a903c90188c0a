package cli

import (
	"io"
	"log"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/config"
)

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("service", "custodian").Logger()

	// Libraries that write through the standard logger end up here too.
	log.SetFlags(0)
	log.SetOutput(logger)
	return logger
}
