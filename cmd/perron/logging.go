package main

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a development zap logger on stderr adapted to logr.
// Verbosity n enables logr V(n-1) and below.
func newLogger(verbosity int) (logr.Logger, error) {
	zCfg := zap.NewDevelopmentConfig()
	zCfg.EncoderConfig.EncodeCaller = nil
	zCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	zCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(1 - verbosity))

	z, err := zCfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(z), nil
}
