package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agent-console/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var errHubStopped = errors.New("hub: stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The console UI is served from the same origin or a local shell.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans console events out to websocket clients. Agents only see their
// own events; supervisors see everything.
type Hub struct {
	log *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

type message struct {
	agentID string
	data    []byte
}

func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
		clients:    map[*Client]struct{}{},
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("console client connected", "client_id", c.id, "agent_id", c.agentID, "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Info("console client disconnected", "client_id", c.id)

		case m := <-h.broadcast:
			h.fanOut(m)
		}
	}
}

// Publish implements notify.Sink. Events are dropped when the hub is saturated.
func (h *Hub) Publish(ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal console event failed", "err", err)
		return
	}
	select {
	case h.broadcast <- message{agentID: ev.AgentID, data: data}:
	default:
		h.log.Warn("console event dropped, hub saturated", "agent_id", ev.AgentID, "kind", ev.Kind)
	}
}

func (h *Hub) fanOut(m message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.supervisor && c.agentID != m.agentID {
			continue
		}
		select {
		case c.send <- m.data:
		default:
			close(c.send)
			delete(h.clients, c)
			h.log.Warn("client send buffer full, closing connection", "client_id", c.id)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and attaches a client for agentID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, agentID string, supervisor bool) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		id:         uuid.NewString(),
		agentID:    agentID,
		supervisor: supervisor,
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return errHubStopped
	}
	go c.writePump()
	go c.readPump()
	return nil
}

// Client is one websocket connection.
type Client struct {
	id         string
	agentID    string
	supervisor bool
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
}

// readPump only handles control frames; the UI sends commands over HTTP.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "client_id", c.id, "err", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
