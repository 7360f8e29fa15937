package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "PUREMOTE_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks PUREMOTE_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var err error
	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		// Unknown level - use info as default when explicitly set to something
		return zapcore.InfoLevel
	}
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to silent logger if not initialized
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// LogProbe logs the outcome of a single device probe
func LogProbe(address string, online bool, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("address", address),
		zap.Bool("online", online),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Debug("Probe finished", fields...)
}

// LogBatch logs the summary of a discovery batch
func LogBatch(candidates, detected int, elapsed time.Duration) {
	Info("Discovery batch finished",
		zap.Int("candidates", candidates),
		zap.Int("detected", detected),
		zap.Duration("elapsed", elapsed),
	)
}

// LogChannelState logs a channel state transition
func LogChannelState(address, channel, from, to string, err error) {
	fields := []zap.Field{
		zap.String("address", address),
		zap.String("channel", channel),
		zap.String("from", from),
		zap.String("to", to),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		Warn("Channel state changed", fields...)
		return
	}
	Info("Channel state changed", fields...)
}

// LogChannelEvent logs a received telemetry frame
func LogChannelEvent(address, channel string, data []byte) {
	Debug("Channel event",
		zap.String("address", address),
		zap.String("channel", channel),
		zap.Int("length", len(data)),
		zap.String("payload", truncate(data, 256)),
	)
}

// LogPersistence logs a registry read or write
func LogPersistence(op, path string, records int, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("path", path),
		zap.Int("records", records),
	}
	if err != nil {
		Error("Registry persistence failed", append(fields, zap.Error(err))...)
		return
	}
	Debug("Registry persisted", fields...)
}

// LogConnection logs a relay client connection event
func LogConnection(remoteAddr, event string, fields ...zap.Field) {
	Info("Relay connection event",
		append([]zap.Field{
			zap.String("remote_addr", remoteAddr),
			zap.String("event", event),
		}, fields...)...,
	)
}

// LogHTTPRequest logs a handled relay request
func LogHTTPRequest(remoteAddr, method, path string, status int, elapsed time.Duration) {
	Debug("HTTP request",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	)
}

func truncate(data []byte, limit int) string {
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
