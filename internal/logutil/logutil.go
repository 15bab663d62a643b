package logutil

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	logger  = log.NewWithOptions(os.Stderr, log.Options{Prefix: "multipost", ReportTimestamp: true, Level: log.InfoLevel})
	verbose bool
	mu      sync.RWMutex
)

// SetVerbose adjusts the global logging level. Loggers returned by With
// inherit the level in effect when they were created.
func SetVerbose(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = enable
	if enable {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// With returns a child logger carrying keyvals on every line.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

// Debugf logs a debug message when verbose logging is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Leveled adapts the process logger to the retryablehttp.LeveledLogger
// interface.
type Leveled struct {
	L *log.Logger
}

// HTTPLogger returns a Leveled logger tagged with component=http.
func HTTPLogger() Leveled {
	return Leveled{L: logger.With("component", "http")}
}

func (l Leveled) Error(msg string, keysAndValues ...any) { l.L.Error(msg, keysAndValues...) }
func (l Leveled) Info(msg string, keysAndValues ...any)  { l.L.Debug(msg, keysAndValues...) }
func (l Leveled) Debug(msg string, keysAndValues ...any) { l.L.Debug(msg, keysAndValues...) }
func (l Leveled) Warn(msg string, keysAndValues ...any)  { l.L.Warn(msg, keysAndValues...) }
