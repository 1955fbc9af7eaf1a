// Package observability records business events (exports, imports, config
// changes) in SQLite for later inspection.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/coverbridge/dbopen"
	"github.com/hazyhaar/coverbridge/idgen"
	"github.com/hazyhaar/coverbridge/kit"
)

// ServiceName names the bridge to MCP clients.
const ServiceName = "coverbridge"

// Event types.
const (
	EventExport        = "export"
	EventImport        = "import"
	EventUploadBatch   = "upload_batch"
	EventConfigSaved   = "config_saved"
	EventConfigTested  = "config_tested"
	EventConfigDeleted = "config_deleted"
	EventLogin         = "login"
)

// BusinessEvent is a domain-level event to record.
type BusinessEvent struct {
	EventType  string
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	Details    any // marshalled to JSON when non-nil
	Success    bool
}

// StoredEvent is a row read back by Recent.
type StoredEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	EntityID  string    `json:"entityId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventLogger writes business events and manages retention cleanup.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) EventLoggerOption {
	return func(l *EventLogger) { l.now = now }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(lg *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = lg }
}

// NewEventLogger creates a logger backed by db. A nil db yields a logger
// that only writes to slog.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.EventID,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged, never returned: a
// failing event store must not fail the export or import it describes.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	if l == nil {
		return
	}
	var details string
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			l.logger.Warn("observability: marshal details", "error", err, "event_type", event.EventType)
		} else {
			details = string(b)
		}
	}

	l.logger.Debug("event", "type", event.EventType, "action", event.Action,
		"entity_id", event.EntityID, "user_id", event.UserID, "success", event.Success,
		"role", kit.Role(ctx), "transport", kit.TransportOf(ctx), "trace_id", kit.TraceID(ctx))
	if l.db == nil {
		return
	}
	_, err := dbopen.Exec(context.WithoutCancel(ctx), l.db, `
		INSERT INTO bridge_events (
			event_id, event_type, entity_type, entity_id,
			user_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.EntityType, event.EntityID,
		event.UserID, event.Action, details, event.Success, l.now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", event.EventType)
	}
}

// Recent returns a user's latest events, newest first.
func (l *EventLogger) Recent(ctx context.Context, userID string, limit int) ([]StoredEvent, error) {
	if l == nil || l.db == nil {
		return []StoredEvent{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, entity_id, user_id,
			action, details, success, created_at
		FROM bridge_events WHERE user_id = ?
		ORDER BY created_at DESC, event_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var e StoredEvent
		var ts int64
		if err := rows.Scan(&e.EventID, &e.EventType, &e.EntityID, &e.UserID,
			&e.Action, &e.Details, &e.Success, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than retentionDays. Zero disables it.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()
	res, err := dbopen.Exec(ctx, db, `DELETE FROM bridge_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup bridge_events: %w", err)
	}
	return res.RowsAffected()
}

// RunCleanup calls Cleanup every interval until ctx is done.
func RunCleanup(ctx context.Context, db *sql.DB, retentionDays int, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := Cleanup(ctx, db, retentionDays); err != nil {
				slog.Warn("observability: cleanup failed", "error", err)
			} else if n > 0 {
				slog.Info("observability: events pruned", "deleted", n)
			}
		}
	}
}
