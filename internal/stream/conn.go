package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is one transport link to the event stream.
type Conn interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Close closes the link. Safe to call more than once.
	Close() error

	// Messages delivers inbound frames in arrival order.
	// The channel is closed once the link is down.
	Messages() <-chan TimestampedMessage

	// Errors delivers non-fatal transport errors.
	Errors() <-chan error

	// CloseInfo reports why the link went down. Valid after Messages is closed.
	CloseInfo() CloseInfo

	// IsConnected reports whether the link is still up.
	IsConnected() bool
}

// Dialer opens links. The Manager owns every Conn it gets from Dial.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials gorilla/websocket links.
type WebSocketDialer struct {
	cfg     Config
	logger  *slog.Logger
	session string
}

// NewWebSocketDialer creates a dialer. Every link it opens carries the same
// X-Client-Session header so the backend can correlate reconnects.
func NewWebSocketDialer(cfg Config, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{
		cfg:     cfg,
		logger:  logger,
		session: uuid.NewString(),
	}
}

// Session returns the client session id sent on every handshake.
func (d *WebSocketDialer) Session() string {
	return d.session
}

// Dial establishes a WebSocket link.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Client-Session", d.session)

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	bufferSize := d.cfg.BufferSize
	if bufferSize < 1 {
		bufferSize = 1
	}

	c := &wsConn{
		cfg:        d.cfg,
		logger:     d.logger,
		conn:       ws,
		messages:   make(chan TimestampedMessage, bufferSize),
		errors:     make(chan error, 4),
		done:       make(chan struct{}),
		connected:  true,
		lastPongAt: time.Now(),
	}

	// Server pings are answered here; any ping or pong counts as liveness.
	ws.SetPingHandler(func(data string) error {
		c.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if d.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	d.logger.Debug("websocket connected", "url", url)

	return c, nil
}

// wsConn implements Conn on top of a gorilla connection.
type wsConn struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
	closeInfo  CloseInfo
}

func (c *wsConn) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *wsConn) Messages() <-chan TimestampedMessage {
	return c.messages
}

func (c *wsConn) Errors() <-chan error {
	return c.errors
}

func (c *wsConn) CloseInfo() CloseInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeInfo
}

func (c *wsConn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

func (c *wsConn) reportError(err error) {
	select {
	case c.errors <- err:
	default:
		c.logger.Debug("transport error dropped, channel full", "error", err)
	}
}

// readLoop forwards frames until the link fails, then closes messages.
func (c *wsConn) readLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			info := closeInfoFrom(err)

			c.mu.Lock()
			c.connected = false
			c.closeInfo = info
			c.mu.Unlock()

			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.reportError(err)
				}
			}
			return
		}

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and drops the link when pongs stop.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if c.cfg.PongTimeout > 0 && time.Since(lastPong) > c.cfg.PongTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PongTimeout,
				)
				c.reportError(ErrStaleConnection)
				// Unblocks readLoop, which reports the close.
				c.conn.Close()
				return
			}
		}
	}
}

func closeInfoFrom(err error) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	return CloseInfo{Code: CloseAbnormal, Reason: err.Error()}
}
