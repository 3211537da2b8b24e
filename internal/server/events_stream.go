package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"customs-tracker/internal/events"
)

// EventsStreamHandler bridges the notification bus onto Server-Sent Events.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Optional comma-separated type filter, e.g. ?types=clearance.cleared
	typesFilter := r.URL.Query().Get("types")
	subscribed := subscribedTypes(typesFilter)

	h.log.Info().
		Str("types_filter", typesFilter).
		Msg("Client connected to event stream")

	// Buffered so a slow client drops events instead of blocking publishers.
	eventChan := make(chan events.Event, 100)

	handler := func(event events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	// Each connection gets a unique subscription name so concurrent clients
	// never displace each other's handlers.
	subName := "sse-" + uuid.NewString()
	for _, eventType := range subscribed {
		h.eventBus.Subscribe(eventType, subName, handler)
	}
	defer func() {
		for _, eventType := range subscribed {
			h.eventBus.Unsubscribe(eventType, subName)
		}
	}()

	done := r.Context().Done()

	fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			eventJSON := h.encodeEvent(map[string]interface{}{
				"id":        event.ID,
				"type":      string(event.Type),
				"source":    event.Source,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			fmt.Fprintf(w, "data: %s\n\n", eventJSON)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// encodeEvent encodes an event map to JSON string.
func (h *EventsStreamHandler) encodeEvent(event map[string]interface{}) string {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

// subscribedTypes resolves a comma-separated filter to known event types.
// An empty or fully-unknown filter subscribes to everything.
func subscribedTypes(typesFilter string) []events.EventType {
	if typesFilter == "" {
		return events.AllEventTypes
	}

	var result []events.EventType
	for _, t := range strings.Split(typesFilter, ",") {
		eventType := events.EventType(strings.TrimSpace(t))
		if eventType.IsValid() {
			result = append(result, eventType)
		}
	}
	if len(result) == 0 {
		return events.AllEventTypes
	}
	return result
}
