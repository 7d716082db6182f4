// Package logger provides leveled logging for the resource pools
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelNone disables all logging
	LogLevelNone LogLevel = iota

	// LogLevelFatal enables fatal logging
	LogLevelFatal

	// LogLevelError enables error logging
	LogLevelError
	// LogLevelWarn enables warning and error logging
	LogLevelWarn
	// LogLevelInfo enables info and error logging
	LogLevelInfo
	// LogLevelDebug enables all logging
	LogLevelDebug
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

var (
	globalLogger *zap.Logger
	sugar        *zap.SugaredLogger
	atomicLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu           sync.Mutex
)

// Init builds the global logger. Calling it again replaces the previous one.
func Init(cfg Config) error {
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = l
	sugar = l.Sugar()
	mu.Unlock()
	return nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	atomicLevel.SetLevel(level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            atomicLevel,
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, building a console logger on first use.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		l, err := newLogger(Config{Level: atomicLevel.Level().String()})
		if err != nil {
			l = zap.NewNop()
		}
		globalLogger = l
		sugar = l.Sugar()
	}
	return globalLogger
}

func sugared() *zap.SugaredLogger {
	Get()
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// SetLogLevel changes the level of the global logger
func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelNone:
		// nothing below fatal is ever emitted
		atomicLevel.SetLevel(zapcore.FatalLevel)
	case LogLevelFatal:
		atomicLevel.SetLevel(zapcore.FatalLevel)
	case LogLevelError:
		atomicLevel.SetLevel(zapcore.ErrorLevel)
	case LogLevelWarn:
		atomicLevel.SetLevel(zapcore.WarnLevel)
	case LogLevelInfo:
		atomicLevel.SetLevel(zapcore.InfoLevel)
	default:
		atomicLevel.SetLevel(zapcore.DebugLevel)
	}
}

// Debug logs debug information
func Debug(format string, v ...interface{}) {
	sugared().Debugf(format, v...)
}

// Info logs information
func Info(format string, v ...interface{}) {
	sugared().Infof(format, v...)
}

// Warn logs a warning
func Warn(format string, v ...interface{}) {
	sugared().Warnf(format, v...)
}

// Error logs error information
func Error(format string, v ...interface{}) {
	sugared().Errorf(format, v...)
}

// Fatal logs fatal information and exits the process
func Fatal(format string, v ...interface{}) {
	sugared().Fatalf(format, v...)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
