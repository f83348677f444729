package audit

import (
	"context"
	"sync"
	"time"
)

// MemorySink keeps events in memory in write order. Tests use it to assert
// start/terminal pairing and ordering.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event

	// FailWrites makes every Write return an error, for testing the
	// recorder's swallow policy.
	FailWrites error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the event, or fails if FailWrites is set.
func (s *MemorySink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites != nil {
		return s.FailWrites
	}

	clone := *event
	s.events = append(s.events, &clone)
	return nil
}

// Events returns a snapshot of the recorded events in write order.
func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

// EventsOfType returns the recorded events with the given type, in order.
func (s *MemorySink) EventsOfType(eventType EventType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Search implements Store over the in-memory events.
func (s *MemorySink) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make(map[EventType]bool, len(filter.EventTypes))
	for _, et := range filter.EventTypes {
		types[et] = true
	}

	var out []*Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if len(types) > 0 && !types[e.EventType] {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Purge drops events older than the cutoff.
func (s *MemorySink) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*Event
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}
