package redisserver

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordSyncDuration records the time taken for a full synchronization
	RecordSyncDuration(duration time.Duration)

	// RecordCommandProcessed records a processed command with its duration
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records network bytes received
	RecordNetworkBytes(bytes int64)

	// RecordKeyCount records the current number of keys
	RecordKeyCount(count int64)

	// RecordConnection records a client connecting (+1) or leaving (-1)
	RecordConnection(delta int)

	// RecordReconnection records a reconnection to the primary
	RecordReconnection()

	// RecordError records an error event
	RecordError(errorType string)
}

// Log levels understood by NewLogger
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelError = "error"
)

// NewLogger returns a Logger writing through the standard log package that
// drops messages below level
func NewLogger(level string) Logger {
	l := &defaultLogger{}
	switch strings.ToLower(level) {
	case LevelDebug:
		l.debug, l.info = true, true
	case LevelError:
	default:
		l.info = true
	}
	return l
}

// defaultLogger is a simple logger implementation using the standard log package
type defaultLogger struct {
	debug bool
	info  bool
}

func (l *defaultLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.logWithFields("DEBUG", msg, fields...)
	}
}

func (l *defaultLogger) Info(msg string, fields ...Field) {
	if l.info {
		l.logWithFields("INFO", msg, fields...)
	}
}

func (l *defaultLogger) Error(msg string, fields ...Field) {
	l.logWithFields("ERROR", msg, fields...)
}

func (l *defaultLogger) logWithFields(level, msg string, fields ...Field) {
	logMsg := level + ": " + msg
	for _, field := range fields {
		logMsg += " " + field.Key + "=" + formatValue(field.Value)
	}
	log.Println(logMsg)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
