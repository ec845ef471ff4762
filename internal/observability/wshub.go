package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/trenchlab/trenchwatch/internal/alert"
)

// ---------------------------------------------------------------------------
// Live alert feed — websocket fanout of alert events
// ---------------------------------------------------------------------------

const (
	wsWriteWait      = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsSendBufferSize = 32
)

// AlertHub pushes every emitted alert to connected websocket subscribers.
// It implements alert.Notifier so it slots into the alert fanout next to
// the log sink. A slow subscriber is dropped rather than allowed to stall
// the scan loop.
type AlertHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan alert.Event
}

func NewAlertHub() *AlertHub {
	return &AlertHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only telemetry on an internal port.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Notify implements alert.Notifier.
func (h *AlertHub) Notify(_ context.Context, event alert.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			// Subscriber cannot keep up; disconnect it.
			delete(h.clients, c)
			close(c.send)
			log.Warn().Msg("alert feed: dropping slow subscriber")
		}
	}
	return nil
}

// Subscribers reports the number of connected feed clients.
func (h *AlertHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams alerts until the client
// disconnects or the hub closes.
func (h *AlertHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("alert feed: upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan alert.Event, wsSendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	log.Info().Int("subscribers", count).Msg("alert feed: subscriber connected")

	go h.readLoop(client)
	h.writeLoop(client)
}

// Close disconnects every subscriber. Safe to call more than once.
func (h *AlertHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// readLoop drains inbound frames so ping/pong and close handshakes work.
// Subscribers are not expected to send anything.
func (h *AlertHub) readLoop(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *AlertHub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *AlertHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
