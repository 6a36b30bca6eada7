// Package logger provides structured logging for the application.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interface defines the logger methods used across the application.
type Interface interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	With(fields ...any) Interface
}

// Logger implements Interface on top of zap.
type Logger struct {
	zl *zap.SugaredLogger
}

// New creates a logger. JSON encoding is used when json is true, console
// encoding otherwise; debug level is enabled in development.
func New(json, development bool) (*Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      development,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if json {
		cfg.Encoding = "json"
	}

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zl: zl.Sugar()}, nil
}

func (l *Logger) Debug(msg string, fields ...any) { l.zl.Debugw(msg, fields...) }
func (l *Logger) Info(msg string, fields ...any)  { l.zl.Infow(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...any)  { l.zl.Warnw(msg, fields...) }
func (l *Logger) Error(msg string, fields ...any) { l.zl.Errorw(msg, fields...) }

// With returns a logger with the given key-value pairs attached to every entry.
func (l *Logger) With(fields ...any) Interface {
	return &Logger{zl: l.zl.With(fields...)}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop().Sugar()}
}
