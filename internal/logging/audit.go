package logging

import (
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one lifecycle event in the audit trail.
type AuditEventType string

const (
	// Session lifecycle
	AuditSessionStart   AuditEventType = "session_start"
	AuditStageAdvance   AuditEventType = "stage_advance"
	AuditSessionSuccess AuditEventType = "session_success"
	AuditSessionFailure AuditEventType = "session_failure"
	AuditSessionCancel  AuditEventType = "session_cancel"
	AuditSessionClear   AuditEventType = "session_clear"

	// Diagnostics
	AuditHealthProbe  AuditEventType = "health_probe"
	AuditConfigReload AuditEventType = "config_reload"
)

// AuditFile is the audit trail's file name inside the logs directory.
const AuditFile = "audit.jsonl"

// AuditEvent is one structured audit entry. Question and answer text are
// never recorded.
type AuditEvent struct {
	EventType  AuditEventType
	SessionID  string
	Target     string
	Success    bool
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu      sync.RWMutex
	auditBase    = zap.NewNop()
	auditRotator *lumberjack.Logger
)

// AuditLogger writes audit events, optionally scoped to a session token.
type AuditLogger struct {
	sessionID string
	category  Category
}

// Audit returns an unscoped audit logger
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID, category: CategorySession}
}

// AuditWithCategory creates an audit logger tagged with category
func AuditWithCategory(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// initAudit opens the audit trail next to the debug log. Callers hold mu.
func initAudit(dir string) {
	auditMu.Lock()
	defer auditMu.Unlock()

	auditRotator = &lumberjack.Logger{
		Filename:   filepath.Join(dir, AuditFile),
		MaxSize:    5, // Megabytes
		MaxBackups: 3,
		MaxAge:     30, // Days
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.EpochMillisTimeEncoder
	encoderConfig.MessageKey = "event"
	encoderConfig.LevelKey = ""
	encoderConfig.CallerKey = ""

	auditBase = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	))
}

// closeAudit flushes and closes the audit trail.
func closeAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	_ = auditBase.Sync()
	if auditRotator != nil {
		_ = auditRotator.Close()
		auditRotator = nil
	}
	auditBase = zap.NewNop()
}

// Log writes an audit event. It is a no-op outside debug mode.
func (a *AuditLogger) Log(event AuditEvent) {
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}

	fields := []zap.Field{zap.Bool("success", event.Success)}
	if a.category != "" {
		fields = append(fields, zap.String("cat", string(a.category)))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session", event.SessionID))
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}

	auditMu.RLock()
	defer auditMu.RUnlock()
	auditBase.Info(string(event.EventType), fields...)
}

// Event records a bare event with an outcome.
func (a *AuditLogger) Event(eventType AuditEventType, target string, success bool) {
	a.Log(AuditEvent{EventType: eventType, Target: target, Success: success})
}

// Timed records an event with its duration.
func (a *AuditLogger) Timed(eventType AuditEventType, d time.Duration, success bool, fields map[string]interface{}) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Success:    success,
		DurationMs: d.Milliseconds(),
		Fields:     fields,
	})
}
