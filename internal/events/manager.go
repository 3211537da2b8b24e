package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging. It is a thin convenience layer
// over the Bus: every emit goes out on the bus and into the structured log.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying notification bus.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes an event with a raw map payload
func (m *Manager) Emit(eventType EventType, source string, data map[string]interface{}) {
	m.bus.Publish(eventType, source, data)

	payload, _ := json.Marshal(data)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("source", source).
		RawJSON("data", payload).
		Msg("Event emitted")
}

// EmitTyped publishes an event with a typed payload
func (m *Manager) EmitTyped(source string, data EventData) {
	if data == nil {
		return
	}
	m.Emit(data.EventType(), source, convertEventDataToMap(data))
}

// EmitError publishes a workflow.error event
func (m *Manager) EmitError(source string, workflowID string, err error, context map[string]interface{}) {
	m.EmitTyped(source, &WorkflowErrorData{
		WorkflowID: workflowID,
		Error:      err.Error(),
		Context:    context,
	})
}
