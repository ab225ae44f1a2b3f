package logging

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvProduction selects the zap JSON backend.
const EnvProduction = "production"

// New builds the process logger. Production uses zap's production config
// (JSON, sampling); every other environment logs text through slog.
func New(environment, level string) (Logger, error) {
	if strings.EqualFold(environment, EnvProduction) {
		cfg := zap.NewProductionConfig()
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return NewZapLogger(l).With("environment", environment), nil
	}

	return NewTextLogger(os.Stdout, parseSlogLevel(level)).With("environment", environment), nil
}

func parseSlogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
