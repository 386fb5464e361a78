// Package logging owns the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Options controls how Init builds the logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // console or json
	Output io.Writer // defaults to os.Stderr
}

// Init builds a logger from opts and installs it as the process logger.
func Init(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	l := zap.New(core, zap.AddCaller())
	current.Store(l)
	return l, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return level, fmt.Errorf("logging: unknown level %q", s)
	}
	return level, nil
}

// L returns the process logger. It is a no-op logger until Init is called.
func L() *zap.Logger {
	return current.Load()
}

// Sync flushes the process logger.
func Sync() {
	_ = current.Load().Sync()
}
