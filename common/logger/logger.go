package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides a unified leveled logging interface for the RAG engine.
// Package-level helpers write through a shared zap logger which can be
// replaced with Init or UseNop.

// LogLevel represents log severity levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options configures the shared logger.
type Options struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	JSON       bool   `json:"json" yaml:"json"`
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newConsole(false)
	sugar = base.Sugar()
)

func newConsole(jsonOut bool) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	var encoder zapcore.Encoder
	if jsonOut {
		encoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func productionEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.MessageKey = "message"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// Init replaces the shared logger. When opts.File is set, JSON records are
// also written to a rotated file.
func Init(opts Options) {
	if opts.Level != "" {
		SetLevel(ParseLevel(opts.Level))
	}
	l := newConsole(opts.JSON)
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(productionEncoderConfig()), zapcore.AddSync(rotator), level)
		l = zap.New(zapcore.NewTee(l.Core(), fileCore), zap.AddCaller(), zap.AddCallerSkip(1))
	}
	swap(l)
}

// UseNop discards all output. Intended for tests.
func UseNop() { swap(zap.NewNop()) }

// Sync flushes buffered records.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func swap(l *zap.Logger) {
	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}

// ParseLevel maps debug/info/warn/error to a LogLevel. Unknown values map to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel sets the minimum log level
func SetLevel(l LogLevel) {
	switch l {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Debugf logs a debug message
func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }

// Infof logs an info message
func Infof(format string, args ...interface{}) { current().Infof(format, args...) }

// Warnf logs a warning message
func Warnf(format string, args ...interface{}) { current().Warnf(format, args...) }

// Errorf logs an error message
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// ContextLogger carries structured fields such as request_id.
type ContextLogger struct {
	s *zap.SugaredLogger
}

// With creates a logger that attaches fields to every record.
func With(fields map[string]interface{}) *ContextLogger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &ContextLogger{s: current().With(kv...)}
}

func (c *ContextLogger) Debugf(format string, args ...interface{}) { c.s.Debugf(format, args...) }

func (c *ContextLogger) Infof(format string, args ...interface{}) { c.s.Infof(format, args...) }

func (c *ContextLogger) Warnf(format string, args ...interface{}) { c.s.Warnf(format, args...) }

func (c *ContextLogger) Errorf(format string, args ...interface{}) { c.s.Errorf(format, args...) }
