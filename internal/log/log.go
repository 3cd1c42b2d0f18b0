// Package log builds the zap loggers shared across the engine, the same
// role the teacher's runtime.Logger plays for every Nakama system
// constructor — one logger built at boot and threaded through every
// component constructor.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger unless dev is true, in which case it
// builds a human-readable console logger.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// Nop returns a logger that discards everything, used by tests in place of
// the teacher's habit of passing a no-op runtime.Logger fake.
func Nop() *zap.Logger {
	return zap.NewNop()
}
