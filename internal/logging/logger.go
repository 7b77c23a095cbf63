// Package logging provides config-driven categorized logging for researchdesk.
// Entries go to a rotated JSON file under .researchdesk/logs/ and, for the
// non-interactive commands, optionally to stderr.
// Logging is controlled by logging.debug_mode in the config file - when false
// and no console output was requested, every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, flag and config resolution
	CategorySession   Category = "session"   // Session lifecycle and state transitions
	CategoryTransport Category = "transport" // Calls to the research service
	CategoryProgress  Category = "progress"  // Progress narrator ticks
	CategoryCitation  Category = "citation"  // Citation linking and source registry
	CategoryConfig    Category = "config"    // Config loading and hot reload
	CategoryUI        Category = "ui"        // Terminal UI events
)

// DefaultFile is the log file name used when Settings.File is empty.
const DefaultFile = "researchdesk.log"

// Settings mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Settings struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Format     string // json, text
	File       string
	Categories map[string]bool

	// Console tees every entry to stderr. Never set this while the TUI owns the terminal.
	Console bool
}

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	settings Settings
	logsDir  string
	rotator  *lumberjack.Logger
	loggers  = make(map[Category]*Logger)
)

// Initialize builds the shared zap core from settings.
// dir is the directory log files are written to; it is created on demand.
func Initialize(dir string, s Settings) error {
	if dir == "" {
		return fmt.Errorf("log directory required")
	}

	CloseAll()

	mu.Lock()
	defer mu.Unlock()

	settings = s
	logsDir = dir

	if !s.DebugMode && !s.Console {
		base = zap.NewNop()
		return nil
	}

	level, err := zapcore.ParseLevel(s.Level)
	if err != nil || s.Level == "" {
		level = zapcore.InfoLevel
	}

	var cores []zapcore.Core

	if s.DebugMode {
		if err := os.MkdirAll(dir, 0755); err != nil {
			base = zap.NewNop()
			return fmt.Errorf("failed to create logs directory: %w", err)
		}

		file := s.File
		if file == "" {
			file = DefaultFile
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}

		rotator = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // Megabytes
			MaxBackups: 5,
			MaxAge:     30, // Days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(s.Format), zapcore.AddSync(rotator), level))
		initAudit(dir)
	}

	if s.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	base = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	boot := base.Sugar().Named(string(CategoryBoot))
	boot.Infof("=== researchdesk logging initialized ===")
	boot.Infof("Logs directory: %s", dir)
	boot.Infof("Debug mode: %v, level: %s", s.DebugMode, level)
	if len(s.Categories) == 0 {
		boot.Infof("All categories enabled (no category filter)")
	}

	return nil
}

func fileEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.NameKey = "category"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if format == "text" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// IsDebugMode returns whether file logging is enabled
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !settings.DebugMode && !settings.Console {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// LogsDir returns the directory passed to Initialize.
func LogsDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return logsDir
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging or the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	sugar := zap.NewNop().Sugar()
	if categoryEnabledLocked(category) {
		sugar = base.Sugar().Named(string(category))
	}

	l := &Logger{category: category, sugar: sugar}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// CloseAll flushes and closes the log file (call at shutdown)
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()

	_ = base.Sync()
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	base = zap.NewNop()
	loggers = make(map[Category]*Logger)
	closeAudit()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }

func Transport(format string, args ...interface{})      { Get(CategoryTransport).Info(format, args...) }
func TransportDebug(format string, args ...interface{}) { Get(CategoryTransport).Debug(format, args...) }
func TransportWarn(format string, args ...interface{})  { Get(CategoryTransport).Warn(format, args...) }
func TransportError(format string, args ...interface{}) { Get(CategoryTransport).Error(format, args...) }

func ProgressDebug(format string, args ...interface{}) { Get(CategoryProgress).Debug(format, args...) }

func CitationDebug(format string, args ...interface{}) { Get(CategoryCitation).Debug(format, args...) }
func CitationWarn(format string, args ...interface{})  { Get(CategoryCitation).Warn(format, args...) }

func Config(format string, args ...interface{})     { Get(CategoryConfig).Info(format, args...) }
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warn(format, args...) }

func UI(format string, args ...interface{})      { Get(CategoryUI).Info(format, args...) }
func UIDebug(format string, args ...interface{}) { Get(CategoryUI).Debug(format, args...) }

// =============================================================================
// REQUEST ID TRACING - correlate every entry of one research session
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) sugar() *zap.SugaredLogger {
	kv := make([]interface{}, 0, 2+len(r.fields)*2)
	kv = append(kv, "req", r.requestID)
	for k, v := range r.fields {
		kv = append(kv, k, v)
	}
	return r.logger.sugar.With(kv...)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.sugar().Debugf(format, args...)
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.sugar().Infof(format, args...)
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.sugar().Warnf(format, args...)
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.sugar().Errorf(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
