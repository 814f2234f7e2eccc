// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

// EventType defines the type of audit event.
type EventType string

const (
	EventConfigCommit   EventType = "config_commit"
	EventConfigRollback EventType = "config_rollback"

	EventTenantCreate EventType = "tenant_create"
	EventTenantDelete EventType = "tenant_delete"

	EventConnectionEstablished EventType = "connection_established"
	EventConnectionLost        EventType = "connection_lost"
	EventConnectionRemoved     EventType = "connection_removed"

	EventSAReaped     EventType = "sa_reaped"
	EventSAReapFailed EventType = "sa_reap_failed"

	EventReconcileFailure EventType = "reconcile_failure"
)

// Severity defines the severity level of an audit event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// AuditEvent is one audit log entry for a config-commit or
// connection-lifecycle event.
type AuditEvent struct {
	ID           string
	Timestamp    time.Time
	EventType    EventType
	Severity     Severity
	TenantID     string
	NIID         string
	ConnectionID int
	Action       string
	Success      bool
	ErrorMessage string
}

// Logger writes audit events to the structured logger and, when a
// Store is configured, persists them for later review.
type Logger struct {
	store  *Store
	logger *logging.Logger
}

// NewLogger builds a Logger. store may be nil, in which case events
// are logged but not persisted.
func NewLogger(store *Store, logger *logging.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// LogEvent records an audit event, assigning it a correlation id and
// setting its timestamp if unset. The id lets an operator join this
// event against driver or SA monitor logs for the same connection.
func (l *Logger) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.logStructured(event)

	if l.store != nil {
		if err := l.store.Write(event); err != nil {
			l.logger.Error("failed to persist audit event", "error", err)
			return err
		}
	}
	return nil
}

func (l *Logger) logStructured(event AuditEvent) {
	fields := []any{
		"event_id", event.ID,
		"event_type", event.EventType,
		"tenant", event.TenantID,
		"ni", event.NIID,
		"connection", event.ConnectionID,
		"action", event.Action,
		"success", event.Success,
	}
	switch event.Severity {
	case SeverityInfo:
		l.logger.Info("AUDIT", fields...)
	case SeverityWarn:
		l.logger.Warn("AUDIT", fields...)
	case SeverityError, SeverityFatal:
		l.logger.Error("AUDIT", append(fields, "error", event.ErrorMessage)...)
	}
}

// LogConfigCommit records a tenant configuration commit or rollback.
func (l *Logger) LogConfigCommit(ctx context.Context, eventType EventType, tenantID string, success bool, errMsg string) {
	event := AuditEvent{
		EventType: eventType,
		Severity:  SeverityInfo,
		TenantID:  tenantID,
		Action:    string(eventType),
		Success:   success,
	}
	if !success {
		event.Severity = SeverityError
		event.ErrorMessage = errMsg
	}
	l.LogEvent(ctx, event)
}

// LogConnectionEvent records a connection lifecycle transition.
func (l *Logger) LogConnectionEvent(ctx context.Context, eventType EventType, tenantID, niID string, connID int, success bool, errMsg string) {
	event := AuditEvent{
		EventType:    eventType,
		Severity:     SeverityInfo,
		TenantID:     tenantID,
		NIID:         niID,
		ConnectionID: connID,
		Action:       string(eventType),
		Success:      success,
	}
	if eventType == EventConnectionLost {
		event.Severity = SeverityWarn
	}
	if !success {
		event.Severity = SeverityError
		event.ErrorMessage = errMsg
	}
	l.LogEvent(ctx, event)
}

// LogSAReap records a duplicate SA reap outcome.
func (l *Logger) LogSAReap(ctx context.Context, tenantID, niID string, success bool, errMsg string) {
	eventType := EventSAReaped
	severity := SeverityInfo
	if !success {
		eventType = EventSAReapFailed
		severity = SeverityError
	}
	l.LogEvent(ctx, AuditEvent{
		EventType:    eventType,
		Severity:     severity,
		TenantID:     tenantID,
		NIID:         niID,
		Action:       string(eventType),
		Success:      success,
		ErrorMessage: errMsg,
	})
}

// LogReconcileFailure records a reconcile pass that logged an error.
func (l *Logger) LogReconcileFailure(ctx context.Context, errMsg string) {
	l.LogEvent(ctx, AuditEvent{
		EventType:    EventReconcileFailure,
		Severity:     SeverityError,
		Action:       string(EventReconcileFailure),
		Success:      false,
		ErrorMessage: errMsg,
	})
}
