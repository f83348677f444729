// Package audit records a best-effort, append-only trail of privileged
// action activity. Recording never blocks or fails the action being audited:
// sink errors are logged and counted, not returned.
package audit

import (
	"strings"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events (emitted by the gateway in front of this
	// service; kept in the taxonomy so compliance tooling sees one schema)
	EventTypeAuthLogin  EventType = "auth.login"
	EventTypeAuthLogout EventType = "auth.logout"

	// Dispatch lifecycle events
	EventTypeActionStart   EventType = "action.start"
	EventTypeActionSuccess EventType = "action.success"
	EventTypeActionError   EventType = "action.error"

	// Authorization and admission events
	EventTypeAccessDenied    EventType = "access.denied"
	EventTypeLimiterRejected EventType = "limiter.rejected"
)

// ValidEventTypes is the closed set of event types this service writes or
// accepts in queries.
var ValidEventTypes = map[EventType]bool{
	EventTypeAuthLogin:       true,
	EventTypeAuthLogout:      true,
	EventTypeActionStart:     true,
	EventTypeActionSuccess:   true,
	EventTypeActionError:     true,
	EventTypeAccessDenied:    true,
	EventTypeLimiterRejected: true,
}

// Resource identifies the object an action touched.
type Resource struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ActionResource builds the resource descriptor for an action-scoped event,
// keyed by the action's family: "payroll.lock_period" becomes
// {Type: "payroll_action", ID: "payroll.lock_period"}.
func ActionResource(actionID string) Resource {
	if actionID == "" {
		return Resource{}
	}
	family := actionID
	if i := strings.IndexByte(actionID, '.'); i > 0 {
		family = actionID[:i]
	}
	return Resource{Type: family + "_action", ID: actionID}
}

// Metadata carries request-level context captured at the edge.
type Metadata struct {
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Event is a single audit trail entry. Events are immutable once written;
// nothing in this service updates or deletes them outside retention purge.
type Event struct {
	ID           int64                  `json:"id,omitempty"`
	EventType    EventType              `json:"event_type"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action,omitempty"`
	Resource     Resource               `json:"resource,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Metadata     Metadata               `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Filter selects events for Store.Search.
type Filter struct {
	UserID     string
	EventTypes []EventType
	Success    *bool
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
