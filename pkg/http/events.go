package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goblinos/goblind/pkg/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Subscriber hands out event feeds.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// EventsHandler streams bus events to websocket clients, one JSON message per event.
type EventsHandler struct {
	bus      Subscriber
	buffer   int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a websocket feed over bus.
func NewEventsHandler(bus Subscriber, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		bus:    bus,
		buffer: 256,
		logger: logger.With("component", "events-ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the /events endpoint.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/events", h)
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	feed, unsubscribe := h.bus.Subscribe(h.buffer)
	defer unsubscribe()

	h.logger.Debug("event client connected", "remote", r.RemoteAddr)

	// Reading is only needed to notice the client going away and to process pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event client write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("event client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
