package session

import (
	"time"

	"researchdesk/internal/logging"
)

// auditTransition records a transition in the audit trail. Question text is
// never included.
func auditTransition(from, to State, token string, startedAt time.Time, stages int) {
	event := logging.AuditEvent{Success: true}
	if !startedAt.IsZero() {
		event.DurationMs = time.Since(startedAt).Milliseconds()
	}

	switch st := to.(type) {
	case InFlight:
		if _, fresh := from.(Idle); fresh {
			event.EventType = logging.AuditSessionStart
			event.DurationMs = 0
			event.Fields = map[string]interface{}{"stages": stages}
		} else {
			event.EventType = logging.AuditStageAdvance
			event.Fields = map[string]interface{}{"stage": st.Stage}
		}
	case Succeeded:
		event.EventType = logging.AuditSessionSuccess
		if st.Envelope != nil {
			event.Fields = map[string]interface{}{"sources": len(st.Envelope.Sources)}
		}
	case Failed:
		event.EventType = logging.AuditSessionFailure
		event.Success = false
		event.Error = string(st.Kind)
	case Idle:
		if _, running := from.(InFlight); running {
			event.EventType = logging.AuditSessionCancel
		} else {
			event.EventType = logging.AuditSessionClear
			event.DurationMs = 0
		}
	default:
		return
	}

	logging.AuditWithSession(token).Log(event)
}
