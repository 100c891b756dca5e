package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps the process logrus instance
type Logger struct {
	*logrus.Logger
	mu sync.RWMutex
}

// LogLevel represents log levels
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// LogFormat represents log output formats
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config represents logger configuration
type Config struct {
	Level  LogLevel
	Format LogFormat
	Output string // file path or "stdout"
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the process logger from the environment
func Init() {
	once.Do(func() {
		instance = NewLogger(configFromEnv())
	})
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetLevel(toLogrusLevel(config.Level))

	if config.Format == TextFormat {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	}

	l.SetOutput(openOutput(config.Output))
	l.SetReportCaller(true)

	return l
}

func openOutput(output string) io.Writer {
	if output == "" || output == "stdout" {
		return os.Stdout
	}
	if output == "stderr" {
		return os.Stderr
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "logger: create log directory: %v\n", err)
		return os.Stdout
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: open log file: %v\n", err)
		return os.Stdout
	}

	// Mirror to stdout while developing
	if os.Getenv("APP_ENV") == "development" {
		return io.MultiWriter(file, os.Stdout)
	}
	return file
}

func configFromEnv() Config {
	config := Config{
		Level:  InfoLevel,
		Format: JSONFormat,
		Output: "stdout",
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		config.Output = output
	}

	return config
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// base returns the configured logger, or the logrus standard logger when Init
// has not run (tests, tooling).
func base() *logrus.Logger {
	if instance != nil {
		return instance.Logger
	}
	return logrus.StandardLogger()
}

func Debug(args ...interface{}) { base().Debug(args...) }

func Debugf(format string, args ...interface{}) { base().Debugf(format, args...) }

func Info(args ...interface{}) { base().Info(args...) }

func Infof(format string, args ...interface{}) { base().Infof(format, args...) }

func Warn(args ...interface{}) { base().Warn(args...) }

func Warnf(format string, args ...interface{}) { base().Warnf(format, args...) }

func Error(args ...interface{}) { base().Error(args...) }

func Errorf(format string, args ...interface{}) { base().Errorf(format, args...) }

func Fatal(args ...interface{}) { base().Fatal(args...) }

func Fatalf(format string, args ...interface{}) { base().Fatalf(format, args...) }

// WithField creates an entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return base().WithField(key, value)
}

// WithFields creates an entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return base().WithFields(fields)
}

// WithError creates an entry with an error field
func WithError(err error) *logrus.Entry {
	return base().WithError(err)
}

func withMetadata(fields logrus.Fields, metadata map[string]interface{}) *logrus.Entry {
	for k, v := range metadata {
		fields[k] = v
	}
	return WithFields(fields)
}

// LogRequest logs HTTP request information
func LogRequest(method, path, ip, userAgent string, duration time.Duration, statusCode int) {
	WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"ip":          ip,
		"user_agent":  userAgent,
		"duration_ms": duration.Milliseconds(),
		"status_code": statusCode,
		"type":        "request",
	}).Info("HTTP Request")
}

// LogUserAction logs session-level user actions (connect, disconnect, join)
func LogUserAction(userID, action string, metadata map[string]interface{}) {
	withMetadata(logrus.Fields{
		"user_id": userID,
		"action":  action,
		"type":    "user_action",
	}, metadata).Info("User Action")
}

// LogChatEvent logs messaging events for a room or conversation
func LogChatEvent(event, roomID, userID string, metadata map[string]interface{}) {
	withMetadata(logrus.Fields{
		"event":   event,
		"room_id": roomID,
		"user_id": userID,
		"type":    "chat_event",
	}, metadata).Info("Chat Event")
}

// LogCallEvent logs call lifecycle transitions
func LogCallEvent(event, callID, userID string, metadata map[string]interface{}) {
	withMetadata(logrus.Fields{
		"event":   event,
		"call_id": callID,
		"user_id": userID,
		"type":    "call_event",
	}, metadata).Info("Call Event")
}

// LogSecurityEvent logs refused handshakes and spoofing attempts
func LogSecurityEvent(event, userID, ip string, metadata map[string]interface{}) {
	withMetadata(logrus.Fields{
		"event":   event,
		"user_id": userID,
		"ip":      ip,
		"type":    "security_event",
	}, metadata).Warn("Security Event")
}

// LogError logs detailed error information
func LogError(err error, context string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"error":   err.Error(),
		"context": context,
		"type":    "error_detail",
	}
	if os.Getenv("APP_ENV") == "development" {
		fields["stack_trace"] = stackTrace()
	}
	withMetadata(fields, metadata).Error("Application Error")
}

// LogPerformance logs slow operations as warnings and the rest at debug
func LogPerformance(operation string, duration time.Duration, metadata map[string]interface{}) {
	entry := withMetadata(logrus.Fields{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
		"type":        "performance",
	}, metadata)

	if duration > 2*time.Second {
		entry.Warn("Slow Operation")
	} else {
		entry.Debug("Performance Metric")
	}
}

func stackTrace() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// SetLevel changes the logger level at runtime
func SetLevel(level LogLevel) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
	}
	base().SetLevel(toLogrusLevel(level))
}

// Close closes the logger when it writes to a file
func Close() error {
	if instance != nil {
		if file, ok := instance.Out.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			return file.Close()
		}
	}
	return nil
}
