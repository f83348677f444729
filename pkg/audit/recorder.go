package audit

import (
	"context"
	"time"

	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// Recorder is the write-side entry point for the audit trail. Record has no
// error result on purpose: an audit write failure must never fail the action
// being audited. Failures are logged and counted so operators can alert on
// them instead.
type Recorder struct {
	sink    Sink
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder writing to the given sink. metrics may be
// nil in tests.
func NewRecorder(sink Sink, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Record writes an event to the sink, filling the timestamp if unset.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	if r.metrics != nil {
		r.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType)).Inc()
	}

	if err := r.sink.Write(ctx, event); err != nil {
		if r.metrics != nil {
			r.metrics.AuditWriteFailuresTotal.Inc()
		}
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"event_type": event.EventType,
			"user_id":    event.UserID,
			"action":     event.Action,
		}).Error("Failed to write audit event")
	}
}
