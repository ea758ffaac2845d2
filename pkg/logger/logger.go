package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config contains logger configuration
type Config struct {
	Level  string // Log level: "debug", "info", "warn", or "error"
	Format string // Log format: "json" or "console"
}

// Logger wraps a zap logger
type Logger struct {
	zap *zap.Logger
}

// Field is an alias for zap.Field so callers never import zap directly
type Field = zap.Field

// New creates a new logger with the given configuration
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{zap: z}, nil
}

// NewNop returns a logger that discards everything (used in tests)
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Named returns a child logger with the given name segment appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// With returns a child logger with the given fields attached
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Debug logs a message at debug level
func (l *Logger) Debug(msg string, fields ...Field) {
	l.zap.Debug(msg, fields...)
}

// Info logs a message at info level
func (l *Logger) Info(msg string, fields ...Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs a message at warn level
func (l *Logger) Warn(msg string, fields ...Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs a message at error level
func (l *Logger) Error(msg string, fields ...Field) {
	l.zap.Error(msg, fields...)
}

// Field constructors, re-exported so call sites read as logger.String(...)

func String(key, value string) Field { return zap.String(key, value) }
func Int(key string, value int) Field { return zap.Int(key, value) }
func Int64(key string, value int64) Field { return zap.Int64(key, value) }
func Float64(key string, value float64) Field { return zap.Float64(key, value) }
func Bool(key string, value bool) Field { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Time(key string, t time.Time) Field { return zap.Time(key, t) }
func Any(key string, value interface{}) Field { return zap.Any(key, value) }
func Error(err error) Field { return zap.Error(err) }
