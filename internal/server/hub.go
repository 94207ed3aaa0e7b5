package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"PhantomQuery/internal/event"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
)

var (
	// ErrUnknownClient is returned by SendTo for an id the hub does not track
	ErrUnknownClient = errors.New("unknown client")
	// ErrHubClosed is returned by Register once Close has run
	ErrHubClosed = errors.New("hub closed")
)

// client is one connected socket. Only its write pump writes to conn.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub tracks connected sockets and fans events out to them
type Hub struct {
	clients map[string]*client
	closed  bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}, nil
}

// Register assigns conn a fresh client id and starts its write pump. A
// closed hub closes conn and refuses it.
func (h *Hub) Register(conn *websocket.Conn) (string, error) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return "", ErrHubClosed
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	go h.writePump(c)
	h.logger.Info("client connected", "client_id", c.id, "clients", h.Count())
	return c.id, nil
}

// Unregister stops the write pump for id and waits for the socket to close
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	<-c.done
	h.logger.Info("client disconnected", "client_id", id, "clients", h.Count())
}

// SendTo queues v for one client
func (h *Hub) SendTo(id string, v event.Tagged) error {
	data, err := event.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", v.Type(), err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("failed to send %s to %s: %w", v.Type(), id, ErrUnknownClient)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for client %s", id)
	}
}

// Broadcast queues v for every client. A client whose buffer is full misses it.
func (h *Hub) Broadcast(v event.Tagged) error {
	data, err := event.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", v.Type(), err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", "client_id", id, "type", v.Type())
		}
	}
	h.logger.Debug("broadcast event", "type", v.Type(), "clients", len(h.clients))
	return nil
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		close(c.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		<-c.done
	}
	h.logger.Info("hub closed", "disconnected", len(clients))
	return nil
}

func (h *Hub) writePump(c *client) {
	defer close(c.done)
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// closing conn ends the read loop, which unregisters the client
			h.logger.Warn("failed to write to client", "client_id", c.id, "error", err)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
