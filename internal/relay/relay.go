package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/stream"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("relay closed")

// Config configures the bus.
type Config struct {
	// OutputBuffer is the per-subscriber channel size.
	OutputBuffer int64

	// Ordered makes Publish wait for each subscriber to ack, so every
	// subscriber sees messages in publish order.
	Ordered bool
}

// DefaultConfig returns an ordered bus with a 256-message buffer.
func DefaultConfig() Config {
	return Config{
		OutputBuffer: 256,
		Ordered:      true,
	}
}

// Relay publishes stream events onto topics.
type Relay struct {
	logger *slog.Logger
	bus    *gochannel.GoChannel
	now    func() time.Time

	mu       sync.Mutex
	closed   bool
	attached []attachment
}

type attachment struct {
	m    *stream.Manager
	kind events.Kind
	id   stream.HandlerID
}

// New creates a relay with its own in-process bus.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.OutputBuffer,
		BlockPublishUntilSubscriberAck: cfg.Ordered,
	}, watermill.NewSlogLogger(logger))

	return &Relay{
		logger: logger,
		bus:    bus,
		now:    time.Now,
	}
}

// Attach registers the relay on m for every relayed kind and the
// connection lifecycle.
func (r *Relay) Attach(m *stream.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind := range domainTopics {
		r.attached = append(r.attached, attachment{m: m, kind: kind, id: m.On(kind, r.Publish)})
	}
	for _, kind := range []events.Kind{events.KindConnect, events.KindDisconnect, events.KindReconnectExhausted} {
		r.attached = append(r.attached, attachment{m: m, kind: kind, id: m.On(kind, r.Publish)})
	}
}

// Detach removes every registration made by Attach.
func (r *Relay) Detach() {
	r.mu.Lock()
	attached := r.attached
	r.attached = nil
	r.mu.Unlock()

	for _, a := range attached {
		a.m.Off(a.kind, a.id)
	}
}

// Publish relays one event. Kinds without a topic are ignored.
func (r *Relay) Publish(ev events.Event) error {
	topic, payload, err := r.encode(ev)
	if err != nil {
		return err
	}
	if topic == "" {
		return nil
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaEventType, string(ev.Kind()))
	msg.Metadata.Set(MetaRelayedAt, r.now().UTC().Format(time.RFC3339Nano))

	if err := r.bus.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return nil
}

func (r *Relay) encode(ev events.Event) (string, []byte, error) {
	if topic, ok := TopicFor(ev.Kind()); ok {
		payload := events.Payload(ev)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		return topic, payload, nil
	}

	var status ConnectionStatus
	switch e := ev.(type) {
	case events.Connected:
		status = ConnectionStatus{State: "connected", URL: e.URL, Attempts: e.Attempt}
	case events.Disconnected:
		status = ConnectionStatus{State: "disconnected", Code: e.Code, Reason: e.Reason}
	case events.ReconnectExhausted:
		status = ConnectionStatus{State: "failed", Attempts: e.Attempts}
	default:
		return "", nil, nil
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return "", nil, fmt.Errorf("marshal connection status: %w", err)
	}
	return TopicConnectionStatus, payload, nil
}

// Subscribe returns the raw message channel for topic. Every message must be
// acked; on an ordered bus an unacked message stalls the publisher.
func (r *Relay) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return r.bus.Subscribe(ctx, topic)
}

// Listen calls fn for every message on topic until ctx is done or the relay
// closes. Handler errors are logged and the message is still acked.
func (r *Relay) Listen(ctx context.Context, topic string, fn func(*message.Message) error) error {
	msgs, err := r.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	return r.Consume(ctx, topic, msgs, fn)
}

// Consume runs fn over msgs, a channel from Subscribe, with the same ack
// policy as Listen. Subscribing first and consuming later guarantees that
// nothing published in between is missed.
func (r *Relay) Consume(ctx context.Context, topic string, msgs <-chan *message.Message, fn func(*message.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := fn(msg); err != nil {
				r.logger.Warn("topic handler failed",
					"topic", topic,
					"msg_id", msg.UUID,
					"error", err,
				)
			}
			msg.Ack()
		}
	}
}

// Close detaches from every manager and shuts the bus down.
func (r *Relay) Close() error {
	r.Detach()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.bus.Close()
}

// Decode unmarshals a relayed payload, for example into events.QueryResponse
// or ConnectionStatus.
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", msg.Metadata.Get(MetaEventType), err)
	}
	return v, nil
}
