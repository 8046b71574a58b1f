// Package logging builds the process-wide *slog.Logger.
//
// Development uses slog's text handler on stdout. Production routes slog
// records into a zap JSON core so log shipping sees zap's standard fields.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for env ("production" or anything else) at level
// ("debug", "info", "warn", "error"). The returned function flushes
// buffered entries and should be deferred by main.
func New(env, level string) (*slog.Logger, func(), error) {
	slogLevel, zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	if env != "production" {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
		return logger, func() {}, nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zl, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("logging: building zap logger: %w", err)
	}

	logger := slog.New(zapslog.NewHandler(zl.Core()))
	return logger, func() { _ = zl.Sync() }, nil
}

func parseLevel(level string) (slog.Level, zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, zapcore.DebugLevel, nil
	case "", "info":
		return slog.LevelInfo, zapcore.InfoLevel, nil
	case "warn", "warning":
		return slog.LevelWarn, zapcore.WarnLevel, nil
	case "error":
		return slog.LevelError, zapcore.ErrorLevel, nil
	default:
		return 0, 0, fmt.Errorf("logging: unknown level %q", level)
	}
}
