package audit

import (
	"context"
	"errors"
)

// MultiSink fans events out to several sinks. Every sink sees every event;
// errors are collected rather than short-circuiting, so one failing sink
// does not starve the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink writing to all of the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write delivers the event to every sink.
func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
