// Package events provides the notification bus and event types for the
// customs declaration tracker. Every state change in the system is announced
// here; the UI, the cache and the background jobs are all decoupled through it.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a category of notification. The set is closed: adding
// a new kind is a code change, not a runtime registration.
type EventType string

const (
	// Workflow lifecycle events emitted by background jobs
	WorkflowStarted   EventType = "workflow.started"
	WorkflowProgress  EventType = "workflow.progress"
	WorkflowCompleted EventType = "workflow.completed"
	WorkflowError     EventType = "workflow.error"

	// Clearance check events
	ClearanceChecked EventType = "clearance.checked"
	ClearanceCleared EventType = "clearance.cleared"

	// Tracking data events
	TrackingAdded   EventType = "tracking.added"
	TrackingUpdated EventType = "tracking.updated"

	// UI notification request
	NotificationShow EventType = "notification.show"
)

// AllEventTypes lists every known event type, in a stable order.
// Used by the server's stream handlers to validate type filters.
var AllEventTypes = []EventType{
	WorkflowStarted,
	WorkflowProgress,
	WorkflowCompleted,
	WorkflowError,
	ClearanceChecked,
	ClearanceCleared,
	TrackingAdded,
	TrackingUpdated,
	NotificationShow,
}

// IsValid returns true if the event type is one of the known kinds.
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event represents a single notification. Events are immutable once created:
// publishers construct them, subscribers only read them.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// newEvent constructs an event stamped with a fresh ID and the current time.
func newEvent(eventType EventType, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	}
}
