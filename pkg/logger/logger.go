package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is an alias for zap.Logger for consistency
type Logger = *zap.Logger

// ParseLevel maps a config level name to a zap level; unknown names are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewLogger creates a JSON logger writing to stdout.
func NewLogger(level string) (*zap.Logger, error) {
	return New(os.Stdout, level, "json"), nil
}

// New creates a logger writing to w. format is "json" or "console".
func New(w io.Writer, level, format string) *zap.Logger {
	return NewWithLevel(w, zap.NewAtomicLevelAt(ParseLevel(level)), format)
}

// NewWithLevel is New with a level that can be changed while running.
func NewWithLevel(w io.Writer, level zap.AtomicLevel, format string) *zap.Logger {
	var enc zapcore.Encoder
	if format == "console" {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	} else {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}
