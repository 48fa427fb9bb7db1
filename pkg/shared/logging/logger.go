package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the zap build: level, encoding, and output.
type Config struct {
	Level      string // debug|info|warn|error
	Encoding   string // json|console
	OutputPath string // "" means stderr
}

// DefaultConfig is the production default: json to stderr at info level.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "json", OutputPath: ""}
}

// NewZapLogger builds a *zap.Logger from cfg.
func NewZapLogger(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = cfg.Encoding
	if cfg.OutputPath != "" {
		zcfg.OutputPaths = []string{cfg.OutputPath}
	} else {
		zcfg.OutputPaths = []string{"stderr"}
	}
	return zcfg.Build()
}

// NewLogr wraps a *zap.Logger as a logr.Logger, the interface the rest of
// the core depends on so components never import zap directly.
func NewLogr(zl *zap.Logger) logr.Logger {
	return zapr.NewLogger(zl)
}

// MustNewLogr builds a default logr.Logger, falling back to a bare stderr
// writer if zap construction somehow fails (should not happen with the
// static DefaultConfig).
func MustNewLogr(cfg Config) logr.Logger {
	zl, err := NewZapLogger(cfg)
	if err != nil {
		zl = zap.NewExample()
		zl.Sugar().Warnw("falling back to example logger", "error", err, "goos", os.Getenv("GOOS"))
	}
	return NewLogr(zl)
}
