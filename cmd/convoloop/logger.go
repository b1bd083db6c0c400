package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/convoloop/convoloop/internal/config"
	"github.com/convoloop/convoloop/logging"
)

// newLogger builds a logging.Logger from the config: a tint-colored slog
// handler for terminals ("pretty", the default), or a structured RunLogger
// for json/text output.
func newLogger(cfg config.LogConfig) logging.Logger {
	switch cfg.Format {
	case "json", "text":
		return logging.NewRunLogger(&logging.LoggerConfig{
			Level:     parseLogLevel(cfg.Level),
			Format:    cfg.Format,
			Output:    os.Stderr,
			Component: "cli",
		})
	default:
		return logging.NewSlogAdapter(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slogLevel(cfg.Level),
			TimeFormat: time.Kitchen,
		})))
	}
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "warn", "warning":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
