// Package logging builds the zap loggers used by the processor, its backends and the CLI.
//
// Output goes to the console and, when configured, to a rotating JSON log
// file and a separate error log. Rotation is handled by lumberjack.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults.
const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 14
)

// Config selects level and sinks. The zero value logs info and above to stderr.
type Config struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	ErrorFile   string `yaml:"error_file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	Development bool   `yaml:"development"`
}

// ParseLevel maps debug, info, warn(ing) and error to zap levels, case-insensitively.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return def
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func consoleEncoder(dev bool) zapcore.Encoder {
	cfg := encoderConfig()
	if dev {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func (c Config) rotating(path string) zapcore.WriteSyncer {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}
	if w.MaxSize <= 0 {
		w.MaxSize = DefaultMaxSizeMB
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = DefaultMaxBackups
	}
	if w.MaxAge <= 0 {
		w.MaxAge = DefaultMaxAgeDays
	}
	return zapcore.AddSync(w)
}

// New builds a logger writing to stderr and the configured files.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithConsole(cfg, zapcore.Lock(os.Stderr))
}

// NewWithConsole is New with the console sink replaced.
func NewWithConsole(cfg Config, console zapcore.WriteSyncer) (*zap.Logger, error) {
	def := zapcore.InfoLevel
	if cfg.Development {
		def = zapcore.DebugLevel
	}
	level := ParseLevel(cfg.Level, def)
	if cfg.Level != "" && level == def && !strings.EqualFold(cfg.Level, def.String()) {
		return nil, errors.Errorf("logging: unknown level %q", cfg.Level)
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder(cfg.Development), console, level)}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), cfg.rotating(cfg.File), level))
	}
	if cfg.ErrorFile != "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), cfg.rotating(cfg.ErrorFile), zapcore.ErrorLevel))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// Or returns l, or a no-op logger when l is nil.
func Or(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
