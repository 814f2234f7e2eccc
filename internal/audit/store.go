// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists audit events to SQLite, the same embedded-database
// idiom the teacher's own analytics store uses for flow summaries.
type Store struct {
	db *sql.DB
}

// Open opens or creates the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		tenant_id TEXT,
		network_instance TEXT,
		connection_id INTEGER,
		action TEXT NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events(ts);
	CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_events_event_id ON audit_events(event_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write inserts one audit event.
func (s *Store) Write(event AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (event_id, ts, event_type, severity, tenant_id, network_instance, connection_id, action, success, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.Unix(), string(event.EventType), string(event.Severity),
		event.TenantID, event.NIID, event.ConnectionID, event.Action, event.Success, event.ErrorMessage,
	)
	return err
}

// Recent returns the most recent events, newest first, bounded by
// limit.
func (s *Store) Recent(limit int) ([]AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, ts, event_type, severity, tenant_id, network_instance, connection_id, action, success, error_message
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			eventID      string
			ts           int64
			eventType    string
			severity     string
			tenantID     sql.NullString
			niID         sql.NullString
			connectionID sql.NullInt64
			action       string
			success      bool
			errMsg       sql.NullString
		)
		if err := rows.Scan(&eventID, &ts, &eventType, &severity, &tenantID, &niID, &connectionID, &action, &success, &errMsg); err != nil {
			return nil, err
		}
		events = append(events, AuditEvent{
			ID:           eventID,
			Timestamp:    time.Unix(ts, 0),
			EventType:    EventType(eventType),
			Severity:     Severity(severity),
			TenantID:     tenantID.String,
			NIID:         niID.String,
			ConnectionID: int(connectionID.Int64),
			Action:       action,
			Success:      success,
			ErrorMessage: errMsg.String,
		})
	}
	return events, rows.Err()
}
