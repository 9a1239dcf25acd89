package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gorisk/app"
)

// allScenarios is the subscription key for clients that want every event.
const allScenarios = ""

// SSEClient represents a connected SSE client
type SSEClient struct {
	Scenario string
	Channel  chan app.RunEvent
}

// SSEHub fans run lifecycle events out to Server-Sent Events clients.
type SSEHub struct {
	clients    map[string]map[chan app.RunEvent]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan app.RunEvent
	done       chan struct{}
	closeOnce  sync.Once
	keepAlive  time.Duration
	logger     zerolog.Logger
}

// NewSSEHub creates a hub and starts its dispatch loop.
func NewSSEHub(logger zerolog.Logger) *SSEHub {
	hub := &SSEHub{
		clients:    make(map[string]map[chan app.RunEvent]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan app.RunEvent, 100),
		done:       make(chan struct{}),
		keepAlive:  30 * time.Second,
		logger:     logger.With().Str("component", "sse_hub").Logger(),
	}

	go hub.run()
	return hub
}

// Close stops the dispatch loop.
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.Scenario] == nil {
				h.clients[client.Scenario] = make(map[chan app.RunEvent]bool)
			}
			h.clients[client.Scenario][client.Channel] = true
			h.logger.Debug().Str("scenario", client.Scenario).
				Int("clients", len(h.clients[client.Scenario])).Msg("client registered")
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.Scenario]; exists {
				delete(clients, client.Channel)
				close(client.Channel)
				if len(clients) == 0 {
					delete(h.clients, client.Scenario)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			h.deliver(h.clients[event.Scenario], event)
			if event.Scenario != allScenarios {
				h.deliver(h.clients[allScenarios], event)
			}
			h.clientsMu.RUnlock()
		}
	}
}

func (h *SSEHub) deliver(clients map[chan app.RunEvent]bool, event app.RunEvent) {
	for clientChan := range clients {
		select {
		case clientChan <- event:
		default:
			h.logger.Warn().Str("scenario", event.Scenario).Str("event", event.EventType).
				Msg("client channel full, skipping event")
		}
	}
}

// Broadcast queues an event for every client subscribed to its scenario, and
// for clients subscribed to all scenarios. It never blocks.
func (h *SSEHub) Broadcast(event app.RunEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("event", event.EventType).Msg("broadcast channel full, dropping event")
	}
}

// Subscribe registers a client for scenario, or for every scenario when it is
// empty. The returned function unsubscribes and closes the channel.
func (h *SSEHub) Subscribe(scenario string) (<-chan app.RunEvent, func()) {
	ch := make(chan app.RunEvent, 10)
	select {
	case h.register <- SSEClient{Scenario: scenario, Channel: ch}:
	case <-h.done:
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			select {
			case h.unregister <- SSEClient{Scenario: scenario, Channel: ch}:
			case <-h.done:
			}
		})
	}
}

// HandleSSE streams run events. The optional scenario query parameter
// restricts the stream to one scenario.
func (h *SSEHub) HandleSSE(c *gin.Context) {
	events, unsubscribe := h.Subscribe(c.Query("scenario"))
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			eventJSON, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal event")
				return true
			}
			c.SSEvent(event.EventType, string(eventJSON))
			return true

		case <-time.After(h.keepAlive):
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// ClientCount returns the number of clients subscribed to scenario.
func (h *SSEHub) ClientCount(scenario string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[scenario])
}
