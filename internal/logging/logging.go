// Package logging builds the zap loggers used across cronhook.
//
// Components take a *zap.SugaredLogger and log with key-value pairs:
//
//	log.Infow("job armed", logging.FieldJobID, job.ID, logging.FieldNextRun, next)
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// JSON enables the production JSON encoder; otherwise a console encoder
	// is used.
	JSON bool
}

// New builds a root logger. Callers should Sync it before exit.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.JSON {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zc.Build()
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core), nil
}

// ParseLevel maps a level name to a zapcore.Level.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

// Nop returns a sugared logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Named returns a sugared child logger for a component. A nil root yields a
// no-op logger so constructors can accept an optional logger.
func Named(root *zap.Logger, component string) *zap.SugaredLogger {
	if root == nil {
		return Nop()
	}
	return root.Named(component).Sugar()
}
