package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresSink persists audit events to PostgreSQL and serves the query side
// for compliance review.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a postgres-backed audit sink and ensures the
// schema exists.
func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresSink{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return s, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (s *PostgresSink) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		action VARCHAR(100),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		resource_name VARCHAR(255),
		details JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		metadata JSONB,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	`
	_, err := s.db.Exec(query)
	return err
}

// Write persists a single audit event.
func (s *PostgresSink) Write(ctx context.Context, event *Event) error {
	var detailsJSON, extraJSON []byte
	var err error

	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}
	if event.Metadata.Extra != nil {
		extraJSON, err = json.Marshal(event.Metadata.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			event_type, user_id, action,
			resource_type, resource_id, resource_name,
			details, ip_address, user_agent, metadata,
			success, error_message, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.db.ExecContext(ctx, query,
		string(event.EventType),
		event.UserID,
		nullString(event.Action),
		nullString(event.Resource.Type),
		nullString(event.Resource.ID),
		nullString(event.Resource.Name),
		nullBytes(detailsJSON),
		nullString(event.Metadata.IPAddress),
		nullString(event.Metadata.UserAgent),
		nullBytes(extraJSON),
		event.Success,
		nullString(event.ErrorMessage),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first.
func (s *PostgresSink) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	var conditions []string
	var args []interface{}
	argIdx := 1

	addCondition := func(cond string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, value)
		argIdx++
	}

	if filter.UserID != "" {
		addCondition("user_id = $%d", filter.UserID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(et))
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Success != nil {
		addCondition("success = $%d", *filter.Success)
	}
	if !filter.From.IsZero() {
		addCondition("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("timestamp <= $%d", filter.To)
	}

	query := `
		SELECT id, event_type, user_id, action,
		       resource_type, resource_id, resource_name,
		       details, ip_address, user_agent, metadata,
		       success, error_message, timestamp
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Purge deletes events older than the cutoff and returns the count removed.
// This is the only delete path in the subsystem; it runs from the retention
// cron job.
func (s *PostgresSink) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE timestamp < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var event Event
	var action, resType, resID, resName, ip, ua, errMsg sql.NullString
	var detailsJSON, extraJSON []byte

	err := rows.Scan(
		&event.ID,
		&event.EventType,
		&event.UserID,
		&action,
		&resType,
		&resID,
		&resName,
		&detailsJSON,
		&ip,
		&ua,
		&extraJSON,
		&event.Success,
		&errMsg,
		&event.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.Action = action.String
	event.Resource = Resource{Type: resType.String, ID: resID.String, Name: resName.String}
	event.Metadata = Metadata{IPAddress: ip.String, UserAgent: ua.String}
	event.ErrorMessage = errMsg.String

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &event.Metadata.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &event, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
