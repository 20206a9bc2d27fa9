package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger, set by Init
var Logger *zap.Logger

// Init builds the process logger for the given environment
func Init(env string) error {
	var config zap.Config

	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "test":
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := config.Build()
	if err != nil {
		return err
	}
	Logger = built
	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the process logger, or a no-op logger before Init has run
func Get() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// Named returns a child of the process logger tagged with a component name
func Named(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}
