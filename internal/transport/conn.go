// Package transport keeps the live event socket to the backend.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PhantomQuery/internal/event"
)

// ErrNotReady is returned by Send when the socket is not open
var ErrNotReady = errors.New("transport not ready")

type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectMessage is announced to the server right after the socket opens
const ConnectMessage = "Terminal client connected"

// Conn is a single websocket link. It is opened once by Start and released
// by Stop; a dropped link is not reopened.
type Conn struct {
	url     string
	dialer  *websocket.Dialer
	onFrame func([]byte)
	onClose func(error)
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	ws    *websocket.Conn
	done  chan struct{}
}

// NewConn prepares a link to url. onFrame receives every text frame on the
// read goroutine; onClose is called once if the link drops before Stop.
func NewConn(url string, onFrame func([]byte), onClose func(error), logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if onFrame == nil {
		return nil, fmt.Errorf("frame callback cannot be nil")
	}
	return &Conn{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onFrame: onFrame,
		onClose: onClose,
		logger:  logger,
	}, nil
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials the server, announces the client and starts reading
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("cannot start transport in state %s", c.state)
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.state = StateClosed
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	hello, err := event.Encode(event.Connection{Message: ConnectMessage})
	if err != nil {
		ws.Close()
		c.state = StateClosed
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		ws.Close()
		c.state = StateClosed
		return fmt.Errorf("failed to send connection message: %w", err)
	}

	c.ws = ws
	c.state = StateOpen
	c.done = make(chan struct{})
	go c.readLoop(ws, c.done)

	c.logger.Info("transport connected", "url", c.url)
	return nil
}

// Send writes one tagged frame. Writes are serialized.
func (c *Conn) Send(v event.Tagged) error {
	data, err := event.Encode(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return fmt.Errorf("send %s: %w", v.Type(), ErrNotReady)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", v.Type(), err)
	}
	c.logger.Debug("frame sent", "type", v.Type())
	return nil
}

// Stop closes the socket and waits for the read goroutine to exit. It is
// safe to call more than once and before Start.
func (c *Conn) Stop() error {
	c.mu.Lock()
	if c.state == StateClosed && c.ws == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	ws, done := c.ws, c.done
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	c.sendClose(ws)
	err := ws.Close()
	<-done

	c.logger.Info("transport stopped", "url", c.url)
	return err
}

// sendClose writes a normal closure frame before the socket is torn down
func (c *Conn) sendClose(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("failed to send close frame", "url", c.url, "error", err)
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopping := c.ws != ws
			c.state = StateClosed
			c.ws = nil
			c.mu.Unlock()

			if stopping {
				return
			}
			ws.Close()
			c.logger.Warn("transport closed", "error", err)
			if c.onClose != nil {
				c.onClose(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.onFrame(data)
	}
}
