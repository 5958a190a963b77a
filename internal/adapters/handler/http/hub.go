package http

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

	"crewfleet.hub/internal/core/domain"
	"crewfleet.hub/internal/core/ports"
)

var (
	errSendBufferFull = errors.New("subscriber send buffer full")
	errClientClosed   = errors.New("subscriber closed")
)

// Subscriber is one live dashboard connection. Send must not block.
type Subscriber interface {
	ID() string
	Send(msg domain.Message) error
	Close()
}

// Hub tracks dashboard subscribers and fans events out to them. It also
// mirrors every event to the configured sinks.
type Hub struct {
	mu       sync.Mutex
	clients  map[string]Subscriber
	snapshot func() []domain.AgentRecord
	sinks    []ports.EventSink
	logger   *slog.Logger
}

func NewHub(snapshot func() []domain.AgentRecord, logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]Subscriber),
		snapshot: snapshot,
		logger:   logger.With("component", "hub"),
	}
}

// AddSink mirrors future broadcasts to sink.
func (h *Hub) AddSink(sink ports.EventSink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Connect queues the current snapshot on sub and then registers it. Both
// happen under the hub lock, so no broadcast can reach sub ahead of the
// snapshot.
func (h *Hub) Connect(sub Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := sub.Send(domain.NewMessage(domain.MessageSnapshot, h.snapshot())); err != nil {
		sub.Close()
		return err
	}
	h.clients[sub.ID()] = sub
	websocketSubscribers.Set(float64(len(h.clients)))
	h.logger.Info("websocket connected", "client_id", sub.ID(), "total", len(h.clients))
	return nil
}

// Disconnect removes and closes the subscriber. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	sub, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.Close()
	websocketSubscribers.Set(float64(n))
	h.logger.Info("websocket disconnected", "client_id", id, "total", n)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast implements ports.Broadcaster.
func (h *Hub) Broadcast(msg domain.Message) {
	h.Deliver(msg)
	h.mirror(msg)
}

// Deliver sends msg to every subscriber concurrently. A subscriber whose send
// fails is dropped without affecting the others.
func (h *Hub) Deliver(msg domain.Message) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.clients))
	for _, s := range h.clients {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := s.Send(msg); err != nil {
				h.logger.Warn("failed to send to subscriber", "client_id", s.ID(), "error", err)
				h.Disconnect(s.ID())
			}
		}(s)
	}
	wg.Wait()
}

func (h *Hub) mirror(msg domain.Message) {
	h.mu.Lock()
	sinks := append([]ports.EventSink(nil), h.sinks...)
	h.mu.Unlock()

	for _, sink := range sinks {
		go func(sink ports.EventSink) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sink.Publish(ctx, msg); err != nil {
				h.logger.Warn("failed to mirror event", "sink", sink.Name(), "type", msg.Type, "error", err)
			}
		}(sink)
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan domain.Message
}

func (c *Client) ID() string { return c.id }

// Send queues msg for the write pump. It fails instead of blocking when the
// buffer is full.
func (c *Client) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Disconnect(c.id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Disconnect(c.id)
				return
			}
		}
	}
}

// readPump handles client keepalives. Malformed input is logged and ignored.
func (c *Client) readPump() {
	defer c.hub.Disconnect(c.id)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in struct {
			Type domain.MessageType `json:"type"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			c.logger.Warn("invalid JSON from websocket client", "data", string(data), "error", err)
			continue
		}
		if in.Type == domain.MessagePing {
			if err := c.Send(domain.NewMessage(domain.MessagePong, nil)); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := uuid.NewString()
	client := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		logger: hub.logger.With("client_id", id),
		send:   make(chan domain.Message, sendBuffer),
	}
	if err := hub.Connect(client); err != nil {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
