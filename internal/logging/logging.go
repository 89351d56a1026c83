// Package logging builds the process-wide slog handler on top of zap.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON emits one JSON object per record
	FormatJSON = "json"

	// FormatConsole emits human readable lines
	FormatConsole = "console"
)

// Option configures NewHandler
type Option func(*handlerConfig)

type handlerConfig struct {
	level  slog.Level
	format string
	out    io.Writer
}

// WithLevel sets the minimum level
func WithLevel(level slog.Level) Option {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithFormat selects FormatJSON or FormatConsole
func WithFormat(format string) Option {
	return func(c *handlerConfig) {
		c.format = format
	}
}

// WithWriter replaces stderr as the destination
func WithWriter(w io.Writer) Option {
	return func(c *handlerConfig) {
		if w != nil {
			c.out = w
		}
	}
}

// NewHandler returns an slog.Handler backed by a zap core. Output goes to
// stderr so stdout stays clean for commands printing data.
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{level: slog.LevelInfo, format: FormatJSON, out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	if cfg.format == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.out), zap.NewAtomicLevelAt(zapLevel(cfg.level)))
	return zapslog.NewHandler(core, zapslog.AddStacktraceAt(slog.LevelError+1))
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l < slog.LevelInfo:
		return zapcore.DebugLevel
	case l < slog.LevelWarn:
		return zapcore.InfoLevel
	case l < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// ParseLevel maps a level name onto slog. ok is false for unknown names.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// FromEnv reads <prefix>_LOG_LEVEL and <prefix>_LOG_FORMAT, falling back
// to LOG_LEVEL for the level. Invalid levels are reported and treated as info.
func FromEnv(prefix string) []Option {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) []Option {
	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}

	format := FormatJSON
	if strings.EqualFold(v.GetString("LOG_FORMAT"), FormatConsole) {
		format = FormatConsole
	}
	return []Option{WithLevel(level), WithFormat(format)}
}
