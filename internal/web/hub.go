// internal/web/hub.go
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/tamzrod/classic-monitor/internal/device"
	"github.com/tamzrod/classic-monitor/internal/events"
)

const (
	broadcastQueue = 256
	clientQueue    = 64
	writeTimeout   = 10 * time.Second
)

// Message is the JSON envelope streamed to websocket clients.
type Message struct {
	Type      events.Type      `json:"type"`
	Endpoint  string           `json:"endpoint,omitempty"`
	Readings  *device.Readings `json:"readings,omitempty"`
	Log       string           `json:"log,omitempty"`
	Entry     *device.LogEntry `json:"entry,omitempty"`
	Key       string           `json:"key,omitempty"`
	Name      string           `json:"name,omitempty"`
	Reachable *bool            `json:"reachable,omitempty"`
}

// Hub fans events out to connected websocket clients. It implements
// events.Sink; a client that cannot keep up is evicted.
type Hub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Message

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Run must be started for messages to flow.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger.With("component", "ws"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Message, broadcastQueue),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "type", msg.Type, "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			for _, c := range slow {
				delete(h.clients, c)
				close(c.send)
				h.logger.Warn("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg for every client. It never blocks.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast queue full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ---- events.Sink ----

func (h *Hub) OnReadings(ep device.Endpoint, r *device.Readings) {
	h.Broadcast(Message{Type: events.TypeReadings, Endpoint: ep.String(), Readings: r})
}

func (h *Hub) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	h.Broadcast(Message{Type: events.TypeLogs, Endpoint: ep.String(), Log: kind.String(), Entry: e})
}

func (h *Hub) OnToast(key string) {
	h.Broadcast(Message{Type: events.TypeToast, Key: key})
}

func (h *Hub) OnControllerFound(ep device.Endpoint, name string) {
	h.Broadcast(Message{Type: events.TypeControllerFound, Endpoint: ep.String(), Name: name})
}

func (h *Hub) OnReachable(ep device.Endpoint, ok bool) {
	h.Broadcast(Message{Type: events.TypeReachable, Endpoint: ep.String(), Reachable: &ok})
}

// ---- connection pumps ----

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go writePump(c)
	s.readPump(c)
}

func writePump(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump discards client input and returns when the connection or the hub
// goes away.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
