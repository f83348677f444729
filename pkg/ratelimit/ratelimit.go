// Package ratelimit implements sliding-window admission control per
// (principal, action). Windows are durable records of call timestamps;
// entries older than the window are pruned at read time. Store failures
// fail open: a broken limiter store must not take privileged operations
// down with it.
package ratelimit

import (
	"context"
	"time"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/config"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Window is the durable call record for one (principal, action) pair.
// Calls are ordered oldest first.
type Window struct {
	Calls []time.Time `json:"calls"`
}

// Store persists rate-limit windows.
type Store interface {
	// Fetch returns the window for a key and whether one exists.
	Fetch(ctx context.Context, key string) (Window, bool, error)
	// Save writes the window with the given time-to-live.
	Save(ctx context.Context, key string, w Window, ttl time.Duration) error
	// Delete removes the window for a key.
	Delete(ctx context.Context, key string) error
	// Sweep removes stale windows and returns the count removed.
	Sweep(ctx context.Context) (int, error)
}

// Status is the read-only view of a caller's window for one action.
type Status struct {
	Limited       bool      `json:"limited"`
	Remaining     int       `json:"remaining"`
	ResetsAt      time.Time `json:"resets_at,omitempty"`
	MaxCalls      int       `json:"max_calls,omitempty"`
	WindowMinutes int       `json:"window_minutes,omitempty"`
	// Unlimited is true for actions absent from the limit table.
	Unlimited bool `json:"unlimited,omitempty"`
}

// Limiter checks and records calls against the configured limit table.
type Limiter struct {
	limits  *config.RateLimitConfig
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLimiter creates a limiter over the given limit table and window store.
// metrics may be nil in tests.
func NewLimiter(limits *config.RateLimitConfig, store Store,
	logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	return &Limiter{
		limits:  limits,
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WindowKey returns the store key for a (principal, action) pair.
func WindowKey(principalID, actionID string) string {
	return "ratelimit:" + principalID + ":" + actionID
}

// Check admits or rejects a call. Actions without a configured limit are
// never rejected. On rejection the error is ResourceExhausted with a
// message stating the configured limit and a retry_after_seconds detail.
//
// The read-modify-write on the window is not atomic: two concurrent calls
// can both be admitted at the boundary. Accepted — the limiter protects
// against abuse, not exact accounting.
func (l *Limiter) Check(ctx context.Context, principalID, actionID string) error {
	limit, ok := l.limits.LimitFor(actionID)
	if !ok {
		return nil
	}

	key := WindowKey(principalID, actionID)
	now := l.now()

	window, _, err := l.store.Fetch(ctx, key)
	if err != nil {
		l.failOpen(err, actionID, "fetch")
		return nil
	}

	calls := pruneCalls(window.Calls, now.Add(-limit.Window()))

	if len(calls) >= limit.MaxCalls {
		oldest := calls[0]
		retryAfter := oldest.Add(limit.Window()).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}

		if l.metrics != nil {
			l.metrics.RateLimitRejectionsTotal.WithLabelValues(actionID).Inc()
		}

		return apierr.Newf(apierr.KindResourceExhausted,
			"rate limit exceeded: at most %d calls per %d minutes allowed, retry in %s",
			limit.MaxCalls, limit.WindowMinutes, retryAfter.Round(time.Second)).
			WithDetail("max_calls", limit.MaxCalls).
			WithDetail("window_minutes", limit.WindowMinutes).
			WithDetail("retry_after_seconds", int(retryAfter.Seconds()))
	}

	window.Calls = append(calls, now)
	if err := l.store.Save(ctx, key, window, limit.Window()); err != nil {
		l.failOpen(err, actionID, "save")
	}
	return nil
}

// Status reports the caller's window without mutating it.
func (l *Limiter) Status(ctx context.Context, principalID, actionID string) (*Status, error) {
	limit, ok := l.limits.LimitFor(actionID)
	if !ok {
		return &Status{Unlimited: true, Remaining: -1}, nil
	}

	window, _, err := l.store.Fetch(ctx, WindowKey(principalID, actionID))
	if err != nil {
		return nil, apierr.Wrap(err, apierr.KindInternal, "failed to read rate limit window")
	}

	now := l.now()
	calls := pruneCalls(window.Calls, now.Add(-limit.Window()))

	status := &Status{
		Limited:       len(calls) >= limit.MaxCalls,
		Remaining:     limit.MaxCalls - len(calls),
		MaxCalls:      limit.MaxCalls,
		WindowMinutes: limit.WindowMinutes,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if len(calls) > 0 {
		status.ResetsAt = calls[0].Add(limit.Window())
	}
	return status, nil
}

// Reset clears the window for a (principal, action) pair. Operational
// escape hatch, not part of the dispatch path.
func (l *Limiter) Reset(ctx context.Context, principalID, actionID string) error {
	return l.store.Delete(ctx, WindowKey(principalID, actionID))
}

// WithClock replaces the limiter's time source. Tests only.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) failOpen(err error, actionID, op string) {
	if l.metrics != nil {
		l.metrics.RateLimitStoreErrors.Inc()
	}
	l.logger.WithError(err).WithFields(map[string]interface{}{
		"action":    actionID,
		"operation": op,
	}).Warn("Rate limit store unavailable, allowing request")
}

func pruneCalls(calls []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(calls) && !calls[idx].After(cutoff) {
		idx++
	}
	return calls[idx:]
}
