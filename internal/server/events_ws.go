package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"customs-tracker/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// EventsSocketHandler bridges the notification bus onto a WebSocket. It is
// the push channel for UI clients that keep a long-lived connection instead
// of polling or using SSE.
type EventsSocketHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsSocketHandler creates a new events WebSocket handler.
func NewEventsSocketHandler(eventBus *events.Bus, log zerolog.Logger) *EventsSocketHandler {
	return &EventsSocketHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *EventsSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API allows any origin, so the socket accepts cross-origin
		// handshakes too. The stream is read-only broadcast data; nothing
		// here is sensitive to a hostile page holding a connection.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	h.log.Info().Msg("Client connected to event socket")

	eventChan := make(chan events.Event, 100)
	handler := func(event events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Socket channel full, dropping event")
		}
	}

	subName := "ws-" + uuid.NewString()
	for _, eventType := range events.AllEventTypes {
		h.eventBus.Subscribe(eventType, subName, handler)
	}
	defer func() {
		for _, eventType := range events.AllEventTypes {
			h.eventBus.Unsubscribe(eventType, subName)
		}
	}()

	ctx := r.Context()

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event socket")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, map[string]interface{}{
				"id":        event.ID,
				"type":      string(event.Type),
				"source":    event.Source,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			cancel()
			if err != nil {
				h.log.Info().Err(err).Msg("Socket write failed, closing connection")
				return
			}
		}
	}
}
