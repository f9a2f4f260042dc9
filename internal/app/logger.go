package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production gets JSON; anything else a
// readable text handler with source locations. The result is also installed as
// the slog default so early startup errors share the format.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	logger := slog.New(handler).With(slog.String("service", "beanline"))
	slog.SetDefault(logger)
	return logger
}
