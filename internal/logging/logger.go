// Package logging provides categorized file-based logging for the Trace
// AI edit runtime. Each category writes to its own file under the log
// directory; logging is a no-op unless debug mode is enabled, so release
// builds stay silent.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a runtime subsystem for log routing.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and teardown
	CategoryAuth    Category = "auth"    // Login flow, token lifecycle
	CategoryStream  Category = "stream"  // SSE stream and event dispatch
	CategoryTools   Category = "tools"   // Tool execution
	CategoryConvert Category = "convert" // Trace/native conversion subprocesses
	CategoryDiff    Category = "diff"    // Diff analysis
	CategoryStore   Category = "store"   // Conversation database
	CategorySync    Category = "sync"    // Background conversation sync
)

// Options controls logger behaviour. Zero value disables all output.
type Options struct {
	Debug bool   // Enable file logging
	Level string // debug | info | warn | error (default info)
	Dir   string // Log directory; created on demand
}

// Logger is a category-bound logger. A Logger with a nil sugar field is a
// no-op, which is how disabled categories are represented.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*Logger)
	opts    Options
	level   zapcore.Level = zapcore.InfoLevel
)

// Initialize configures the logging directory and level. Call once at
// startup before any category logger is requested.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	switch o.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	if !o.Debug {
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("log directory required when debug logging is enabled")
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Enabled reports whether file logging is active.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return opts.Debug
}

// Get returns (or creates) the logger for a category. Disabled logging
// yields a no-op logger, never nil.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	enabled := opts.Debug
	mu.RUnlock()

	if !enabled {
		return &Logger{category: category}
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(file), level)
	l := &Logger{
		category: category,
		sugar:    zap.New(core).Sugar().Named(string(category)),
	}
	loggers[category] = l
	return l
}

// CloseAll flushes and forgets every open category logger.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	loggers = make(map[Category]*Logger)
}

func (l *Logger) Debug(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// Convenience functions: quick logging without fetching a logger first.

func Boot(format string, args ...any)    { Get(CategoryBoot).Info(format, args...) }
func Auth(format string, args ...any)    { Get(CategoryAuth).Info(format, args...) }
func Stream(format string, args ...any)  { Get(CategoryStream).Info(format, args...) }
func Tools(format string, args ...any)   { Get(CategoryTools).Info(format, args...) }
func Convert(format string, args ...any) { Get(CategoryConvert).Info(format, args...) }
func Diff(format string, args ...any)    { Get(CategoryDiff).Info(format, args...) }
func Store(format string, args ...any)   { Get(CategoryStore).Info(format, args...) }
func Sync(format string, args ...any)    { Get(CategorySync).Info(format, args...) }

func AuthDebug(format string, args ...any)    { Get(CategoryAuth).Debug(format, args...) }
func StreamDebug(format string, args ...any)  { Get(CategoryStream).Debug(format, args...) }
func ToolsDebug(format string, args ...any)   { Get(CategoryTools).Debug(format, args...) }
func ConvertDebug(format string, args ...any) { Get(CategoryConvert).Debug(format, args...) }
func DiffDebug(format string, args ...any)    { Get(CategoryDiff).Debug(format, args...) }
func StoreDebug(format string, args ...any)   { Get(CategoryStore).Debug(format, args...) }
func SyncDebug(format string, args ...any)    { Get(CategorySync).Debug(format, args...) }

func AuthWarn(format string, args ...any)   { Get(CategoryAuth).Warn(format, args...) }
func StreamWarn(format string, args ...any) { Get(CategoryStream).Warn(format, args...) }
func ToolsWarn(format string, args ...any)  { Get(CategoryTools).Warn(format, args...) }
func StoreWarn(format string, args ...any)  { Get(CategoryStore).Warn(format, args...) }
func SyncWarn(format string, args ...any)   { Get(CategorySync).Warn(format, args...) }

func AuthError(format string, args ...any)    { Get(CategoryAuth).Error(format, args...) }
func StreamError(format string, args ...any)  { Get(CategoryStream).Error(format, args...) }
func ToolsError(format string, args ...any)   { Get(CategoryTools).Error(format, args...) }
func ConvertError(format string, args ...any) { Get(CategoryConvert).Error(format, args...) }
func StoreError(format string, args ...any)   { Get(CategoryStore).Error(format, args...) }
func SyncError(format string, args ...any)    { Get(CategorySync).Error(format, args...) }
