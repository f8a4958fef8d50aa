// Package log provides the process-wide structured logger shared by every
// component of a BaseNode process.
package log

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// emptyTimeEncoder drops timestamps from the console encoder; the
// supervising process (systemd, docker, ...) already timestamps the line.
func emptyTimeEncoder(_ time.Time, _ zapcore.PrimitiveArrayEncoder) {}

// L returns the process-wide logger, building it on first use.
func L() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = emptyTimeEncoder
		cfg.EncoderConfig.EncodeCaller = nil
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		built, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		logger = built
	})
	return logger
}

// S returns the sugared variant of L().
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Reset rebuilds the logger on next call to L/S. Used by tests that need a
// fresh observable core.
func Reset() {
	once = sync.Once{}
	logger = nil
}
