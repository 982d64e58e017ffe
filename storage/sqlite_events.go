package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

// SQLiteEventStorage handles security event persistence in SQLite.
type SQLiteEventStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStorage creates a new SQLite event storage handler.
func NewSQLiteEventStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEventStorage {
	return &SQLiteEventStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

const eventColumns = `event_id, org_id, user_id, session_id, event_type, event_category,
	risk_score, event_data, ip_address, user_agent, device_fingerprint,
	location_data, detection_rules, false_positive, created_at`

// eventArgs serializes an event into the insert argument list matching
// eventColumns order.
func eventArgs(event *core.SecurityEvent) ([]interface{}, error) {
	eventData, err := json.Marshal(event.EventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	locationData, err := json.Marshal(event.LocationData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location data: %w", err)
	}
	detectionRules, err := json.Marshal(event.DetectionRules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detection rules: %w", err)
	}

	return []interface{}{
		event.EventID,
		event.OrgID,
		event.UserID,
		event.SessionID,
		event.EventType,
		string(event.EventCategory),
		event.RiskScore,
		string(eventData),
		event.IPAddress,
		event.UserAgent,
		event.DeviceFingerprint,
		string(locationData),
		string(detectionRules),
		event.FalsePositive,
		event.CreatedAt,
	}, nil
}

// InsertEvent persists a single event.
func (ses *SQLiteEventStorage) InsertEvent(ctx context.Context, event *core.SecurityEvent) error {
	args, err := eventArgs(event)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO security_events (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, eventColumns)
	if _, err := ses.sqlite.WriteDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertEvents persists a batch of events in a single transaction, preserving
// input order. The batch is all-or-nothing.
func (ses *SQLiteEventStorage) InsertEvents(ctx context.Context, events []*core.SecurityEvent) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	tx, err := ses.sqlite.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO security_events (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, eventColumns)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		args, err := eventArgs(event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert event %s in batch: %w", event.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch insert: %w", err)
	}
	return nil
}

// CountEventsSince counts events of a type for an organization observed at or
// after since.
func (ses *SQLiteEventStorage) CountEventsSince(ctx context.Context, orgID, eventType string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE org_id = ? AND event_type = ? AND created_at >= ?
	`
	var count int64
	err := ses.sqlite.ReadDB.QueryRowContext(ctx, query, orgID, eventType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// MetricValuesSince returns up to limit numeric values of a named event-data
// metric for the same org and event type, newest first. Events without the
// metric or with a non-numeric value are skipped.
func (ses *SQLiteEventStorage) MetricValuesSince(ctx context.Context, orgID, eventType, metric string, since time.Time, limit int) ([]float64, error) {
	query := `
		SELECT json_extract(event_data, ?) AS metric_value
		FROM security_events
		WHERE org_id = ? AND event_type = ? AND created_at >= ?
		  AND json_extract(event_data, ?) IS NOT NULL
		ORDER BY created_at DESC
		LIMIT ?
	`
	// json_extract paths must not contain quotes that would alter the path
	// expression.
	path := "$." + strings.ReplaceAll(metric, `"`, "")

	rows, err := ses.sqlite.ReadDB.QueryContext(ctx, query, path, orgID, eventType, since, path, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		if v.Valid {
			values = append(values, v.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metric values: %w", err)
	}
	return values, nil
}

// GetRecentEvents returns the most recent events for an organization.
func (ses *SQLiteEventStorage) GetRecentEvents(ctx context.Context, orgID string, limit int) ([]core.SecurityEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM security_events
		WHERE org_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, eventColumns)

	rows, err := ses.sqlite.ReadDB.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []core.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// SetFalsePositive updates the human-review flag on a persisted event.
func (ses *SQLiteEventStorage) SetFalsePositive(ctx context.Context, eventID string, falsePositive bool) error {
	query := `UPDATE security_events SET false_positive = ? WHERE event_id = ?`
	result, err := ses.sqlite.WriteDB.ExecContext(ctx, query, falsePositive, eventID)
	if err != nil {
		return fmt.Errorf("failed to update false positive flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// EnsureIndexes creates the query indexes used by the rule evaluators.
func (ses *SQLiteEventStorage) EnsureIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_org_type_time ON security_events (org_id, event_type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_org_time ON security_events (org_id, created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := ses.sqlite.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create event index: %w", err)
		}
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*core.SecurityEvent, error) {
	var event core.SecurityEvent
	var category, eventData, locationData, detectionRules string

	err := rows.Scan(
		&event.EventID,
		&event.OrgID,
		&event.UserID,
		&event.SessionID,
		&event.EventType,
		&category,
		&event.RiskScore,
		&eventData,
		&event.IPAddress,
		&event.UserAgent,
		&event.DeviceFingerprint,
		&locationData,
		&detectionRules,
		&event.FalsePositive,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.EventCategory = core.EventCategory(category)
	if err := json.Unmarshal([]byte(eventData), &event.EventData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	if err := json.Unmarshal([]byte(locationData), &event.LocationData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location data: %w", err)
	}
	if err := json.Unmarshal([]byte(detectionRules), &event.DetectionRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal detection rules: %w", err)
	}
	return &event, nil
}
