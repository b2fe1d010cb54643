// Package logutil owns the process-wide zap logger and its context helpers.
package logutil

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultLogMaxSize is the default size of a log file in MB.
	DefaultLogMaxSize = 300
	// DefaultLogFormat is the default format of the log.
	DefaultLogFormat = "text"
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"
)

// Config describes where and how the process logs.
type Config struct {
	Level  string `yaml:"level" json:"level" toml:"level"`
	Format string `yaml:"format" json:"format" toml:"format"` // "text" or "json"
	// File is the log file path; empty means stderr.
	File       string `yaml:"file" json:"file" toml:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size" toml:"max-size"`
	MaxDays    int    `yaml:"max_days" json:"max_days" toml:"max-days"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" toml:"max-backups"`
}

// NewLogConfig returns a Config with defaults filled in.
func NewLogConfig(level, format, file string) *Config {
	return &Config{
		Level:   level,
		Format:  format,
		File:    file,
		MaxSize: DefaultLogMaxSize,
	}
}

var globalLogger atomic.Pointer[zap.Logger]

func init() {
	globalLogger.Store(zap.NewNop())
}

// InitLogger builds the global logger from cfg.
func InitLogger(cfg *Config, opts ...zap.Option) error {
	logger, err := buildLogger(cfg, opts...)
	if err != nil {
		return err
	}
	ReplaceLogger(logger)
	return nil
}

// ReplaceLogger swaps the global logger. Mainly for tests.
func ReplaceLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger.Store(l)
}

func buildLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, error) {
	if cfg == nil {
		cfg = NewLogConfig(DefaultLogLevel, DefaultLogFormat, "")
	}

	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = DefaultLogMaxSize
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxAge:     cfg.MaxDays,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	opts = append([]zap.Option{zap.AddCaller()}, opts...)
	return zap.New(core, opts...), nil
}

// BgLogger returns the logger for background work with no session attached.
func BgLogger() *zap.Logger {
	return globalLogger.Load()
}

type ctxLogKeyType struct{}

var ctxLogKey = ctxLogKeyType{}

// Logger returns the logger carried by ctx, or the global one.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogKey).(*zap.Logger); ok {
			return l
		}
	}
	return BgLogger()
}

// WithFields attaches fields to the logger carried by ctx.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxLogKey, Logger(ctx).With(fields...))
}

// WithSession tags every log line written through ctx with the session id.
func WithSession(ctx context.Context, sessionID int64) context.Context {
	return WithFields(ctx, zap.Int64("session", sessionID))
}
