// CLAUDE:SUMMARY SQLite-native observability: audit trail, service events, metrics, heartbeats.
// Package observability provides SQLite-native monitoring components.
//
// Each component writes to a shared observability database, kept separate
// from the application databases to avoid write contention. Call Init() on
// the shared *sql.DB first, then pass it to the individual constructors.
//
// Persistence never blocks the application: writes are async or
// fire-and-forget, and failures are logged rather than propagated.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/horosheet/idgen"
)

// Service event types.
const (
	EventWorkbookIngested    = "workbook_ingested"
	EventWorkbookFailed      = "workbook_failed"
	EventWorkbookDeleted     = "workbook_deleted"
	EventDeletionFailed      = "workbook_deletion_failed"
	EventQueryExecuted       = "query_executed"
	EventChatAnswered        = "chat_answered"
	EventSchemaDriftDetected = "schema_drift_detected"
)

// Event is a domain-level occurrence worth recording.
type Event struct {
	EventType string
	FileID    string
	Hash      string
	Details   string // optional JSON
	Success   bool
}

// EventLogger writes service events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records a service event. Errors are logged via slog but do not
// propagate, so a failing observability store never blocks the app.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO service_events (
			event_id, event_type, file_id, hash, details, success, created_at
		) VALUES (?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.FileID, event.Hash,
		event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	HTTPLogsDays   int
	EventsDays     int
	AuditDays      int
	MetricsDays    int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type target struct {
		table  string
		column string
		days   int
	}
	targets := []target{
		{"http_request_logs", "created_at", cfg.HTTPLogsDays},
		{"service_events", "created_at", cfg.EventsDays},
		{"audit_log", "timestamp", cfg.AuditDays},
		{"metrics_timeseries", "timestamp", cfg.MetricsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
