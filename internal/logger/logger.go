// Package logger wraps zap with the loose key/value call style used across
// the engine. Values are paired positionally: Info("msg", "key", value).
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger for structured logging.
type Logger struct {
	*zap.Logger
}

// Config contains logging configuration.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// New creates a logger from configuration. Unknown levels fall back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Encoding = "console"
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output != "" && cfg.Output != "stdout" {
		zcfg.OutputPaths = []string{cfg.Output}
		zcfg.ErrorOutputPaths = []string{cfg.Output}
	}

	zl, err := zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// Debug logs a debug message with key/value pairs.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.Logger.Debug(msg, pairFields(kv...)...)
}

// Info logs an info message with key/value pairs.
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.Logger.Info(msg, pairFields(kv...)...)
}

// Warn logs a warning message with key/value pairs.
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.Logger.Warn(msg, pairFields(kv...)...)
}

// Error logs an error message with key/value pairs.
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.Logger.Error(msg, pairFields(kv...)...)
}

// pairFields converts positional key/value pairs to zap fields. Dangling or
// non-string keys are skipped rather than panicking mid-run.
func pairFields(kv ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

// NewNopLogger creates a no-op logger for tests.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
