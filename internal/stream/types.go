package stream

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrInvalidURL      = errors.New("invalid stream url")
)

// CloseAbnormal is the close code reported when the link dropped without a close frame.
const CloseAbnormal = 1006

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// CloseInfo describes why a link went down.
type CloseInfo struct {
	Code   int
	Reason string
}

// Config configures a Manager and the links it dials.
type Config struct {
	ReconnectBaseDelay   time.Duration // Delay before the first reconnect attempt
	ReconnectMaxDelay    time.Duration // Cap for the exponential backoff
	MaxReconnectAttempts int           // Attempts before the manager gives up
	HandshakeTimeout     time.Duration // 0 = no handshake timeout
	PingInterval         time.Duration // 0 disables the heartbeat
	PongTimeout          time.Duration // Max time without pong before the link is considered stale
	WriteTimeout         time.Duration // Write deadline for sends
	BufferSize           int           // Inbound message channel buffer size
	OutboxCapacity       int           // Initial outbox capacity (grows on demand)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         30 * time.Second,
		PongTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
		OutboxCapacity:       64,
	}
}
