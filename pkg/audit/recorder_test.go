package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftworks/gatekeeper/pkg/observability"
)

func testLogger(buf *bytes.Buffer) *observability.Logger {
	return observability.NewLogger(observability.InfoLevel, buf)
}

func TestRecorderFillsTimestamp(t *testing.T) {
	sink := NewMemorySink()
	recorder := NewRecorder(sink, testLogger(&bytes.Buffer{}), nil)

	recorder.Record(context.Background(), &Event{
		EventType: EventTypeActionStart,
		UserID:    "user-1",
		Action:    "payroll.lock_period",
	})

	events := sink.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRecorderSwallowsSinkFailure(t *testing.T) {
	sink := NewMemorySink()
	sink.FailWrites = errors.New("connection refused")

	var buf bytes.Buffer
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	recorder := NewRecorder(sink, testLogger(&buf), metrics)

	// Must not panic or surface the error in any way.
	recorder.Record(context.Background(), &Event{
		EventType: EventTypeActionSuccess,
		UserID:    "user-1",
	})

	assert.Contains(t, buf.String(), "Failed to write audit event")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWriteFailuresTotal))
}

func TestMultiSinkDeliversToAllDespiteFailure(t *testing.T) {
	failing := NewMemorySink()
	failing.FailWrites = errors.New("disk full")
	healthy := NewMemorySink()

	multi := NewMultiSink(failing, healthy)
	err := multi.Write(context.Background(), &Event{EventType: EventTypeActionStart, UserID: "u"})

	require.Error(t, err)
	assert.Len(t, healthy.Events(), 1)
}

func TestMemorySinkSearchFilters(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	recorder := NewRecorder(sink, testLogger(&bytes.Buffer{}), nil)
	recorder.Record(ctx, &Event{EventType: EventTypeActionStart, UserID: "a", Success: true})
	recorder.Record(ctx, &Event{EventType: EventTypeActionError, UserID: "a", Success: false})
	recorder.Record(ctx, &Event{EventType: EventTypeActionStart, UserID: "b", Success: true})

	got, err := sink.Search(ctx, Filter{UserID: "a", EventTypes: []EventType{EventTypeActionError}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
}

func TestActionResource(t *testing.T) {
	assert.Equal(t,
		Resource{Type: "payroll_action", ID: "payroll.lock_period"},
		ActionResource("payroll.lock_period"))
	assert.Equal(t,
		Resource{Type: "admin_action", ID: "admin.provision_tenant"},
		ActionResource("admin.provision_tenant"))
	assert.Equal(t,
		Resource{Type: "audit_action", ID: "audit.search"},
		ActionResource("audit.search"))
	assert.Equal(t, Resource{}, ActionResource(""))
}
