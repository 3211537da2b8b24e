package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all typed event payloads implement.
// It keeps payloads strongly typed at construction and consumption sites
// while the bus itself carries the wire-friendly map form.
type EventData interface {
	// EventType returns the event type this payload belongs to
	EventType() EventType
}

// WorkflowStartedData contains data for WorkflowStarted events
type WorkflowStartedData struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
}

// EventType returns the event type for WorkflowStartedData
func (d *WorkflowStartedData) EventType() EventType {
	return WorkflowStarted
}

// WorkflowProgressData contains data for WorkflowProgress events
type WorkflowProgressData struct {
	WorkflowID string `json:"workflow_id"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message"`
}

// EventType returns the event type for WorkflowProgressData
func (d *WorkflowProgressData) EventType() EventType {
	return WorkflowProgress
}

// WorkflowCompletedData contains data for WorkflowCompleted events
type WorkflowCompletedData struct {
	WorkflowID string  `json:"workflow_id"`
	DurationMS float64 `json:"duration_ms"`
}

// EventType returns the event type for WorkflowCompletedData
func (d *WorkflowCompletedData) EventType() EventType {
	return WorkflowCompleted
}

// WorkflowErrorData contains data for WorkflowError events
type WorkflowErrorData struct {
	WorkflowID string                 `json:"workflow_id"`
	Error      string                 `json:"error"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for WorkflowErrorData
func (d *WorkflowErrorData) EventType() EventType {
	return WorkflowError
}

// ClearanceCheckedData contains data for ClearanceChecked events
type ClearanceCheckedData struct {
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// EventType returns the event type for ClearanceCheckedData
func (d *ClearanceCheckedData) EventType() EventType {
	return ClearanceChecked
}

// ClearanceClearedData contains data for ClearanceCleared events
type ClearanceClearedData struct {
	Reference string    `json:"reference"`
	ClearedAt time.Time `json:"cleared_at"`
}

// EventType returns the event type for ClearanceClearedData
func (d *ClearanceClearedData) EventType() EventType {
	return ClearanceCleared
}

// TrackingAddedData contains data for TrackingAdded events
type TrackingAddedData struct {
	Reference       string `json:"reference"`
	DeclarationType string `json:"declaration_type"`
}

// EventType returns the event type for TrackingAddedData
func (d *TrackingAddedData) EventType() EventType {
	return TrackingAdded
}

// TrackingUpdatedData contains data for TrackingUpdated events
type TrackingUpdatedData struct {
	Reference string `json:"reference"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// EventType returns the event type for TrackingUpdatedData
func (d *TrackingUpdatedData) EventType() EventType {
	return TrackingUpdated
}

// NotificationShowData contains data for NotificationShow events
type NotificationShowData struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // info, warning, error
}

// EventType returns the event type for NotificationShowData
func (d *NotificationShowData) EventType() EventType {
	return NotificationShow
}

// GetTypedData attempts to convert the event's Data map to a typed payload.
// Returns nil if the event type has no typed payload or conversion fails.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case WorkflowStarted:
		var data WorkflowStartedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case WorkflowProgress:
		var data WorkflowProgressData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case WorkflowCompleted:
		var data WorkflowCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case WorkflowError:
		var data WorkflowErrorData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ClearanceChecked:
		var data ClearanceCheckedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ClearanceCleared:
		var data ClearanceClearedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case TrackingAdded:
		var data TrackingAddedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case TrackingUpdated:
		var data TrackingUpdatedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case NotificationShow:
		var data NotificationShowData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

// convertMapToStruct converts a map[string]interface{} to a typed struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap converts a typed payload to map[string]interface{}
// for publishing on the bus.
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
