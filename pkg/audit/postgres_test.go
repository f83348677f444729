package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink, err := NewPostgresSink(db)
	require.NoError(t, err)
	return sink, mock
}

func TestPostgresSinkWrite(t *testing.T) {
	sink, mock := newTestSink(t)

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sink.Write(context.Background(), &Event{
		EventType: EventTypeActionSuccess,
		UserID:    "user-1",
		Action:    "admin.provision_tenant",
		Resource:  Resource{Type: "organization", ID: "org-9"},
		Details:   map[string]interface{}{"plan": "enterprise"},
		Metadata:  Metadata{IPAddress: "10.0.0.1", UserAgent: "curl/8"},
		Success:   true,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkSearchByUserAndType(t *testing.T) {
	sink, mock := newTestSink(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "user_id", "action",
		"resource_type", "resource_id", "resource_name",
		"details", "ip_address", "user_agent", "metadata",
		"success", "error_message", "timestamp",
	}).AddRow(
		int64(7), string(EventTypeAccessDenied), "user-1", "payroll.lock_period",
		nil, nil, nil,
		[]byte(`{"reason":"insufficient_permissions"}`), "10.0.0.1", nil, nil,
		false, "permission denied", now,
	)

	mock.ExpectQuery("SELECT id, event_type, user_id").
		WithArgs("user-1", string(EventTypeAccessDenied), 100).
		WillReturnRows(rows)

	events, err := sink.Search(context.Background(), Filter{
		UserID:     "user-1",
		EventTypes: []EventType{EventTypeAccessDenied},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAccessDenied, events[0].EventType)
	assert.Equal(t, "insufficient_permissions", events[0].Details["reason"])
	assert.Equal(t, "10.0.0.1", events[0].Metadata.IPAddress)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkPurge(t *testing.T) {
	sink, mock := newTestSink(t)

	cutoff := time.Now().AddDate(0, 0, -90)
	mock.ExpectExec("DELETE FROM audit_events WHERE timestamp").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	removed, err := sink.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), removed)
}
