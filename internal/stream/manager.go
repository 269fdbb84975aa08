package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/queue"
)

// Manager owns one logical connection to the backend event stream.
// It is safe for concurrent use; listeners run on the goroutine that
// produced the event and never under the manager's lock.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer
	now    func() time.Time

	registry *registry
	outbox   *queue.Buffer[events.OutboundMessage]

	// sendMu serializes writes (Send and the connect flush) so frames keep
	// their order without holding mu across the network. Taken before mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	url        string
	attempt    int
	gen        uint64 // bumped by every dial and by Disconnect; stale callbacks compare against it
	link       *link
	timer      *time.Timer
	cancelDial context.CancelFunc
}

// link is one established transport connection.
type link struct {
	conn Conn
	gen  uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithClock sets the clock used to timestamp outbound messages.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		registry: newRegistry(),
		outbox:   queue.New[events.OutboundMessage](cfg.OutboxCapacity),
		state:    StateDisconnected,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(cfg, logger)
	}

	return m
}

// Connect starts connecting to rawURL. It returns immediately; the outcome
// is reported through connect, error and disconnect events. Calling Connect
// while connected or connecting is a no-op. Connecting after a failure or a
// Disconnect starts the reconnect budget from zero.
func (m *Manager) Connect(rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}

	m.url = rawURL
	m.attempt = 0
	m.stopTimerLocked()
	ctx, gen, changed := m.beginDialLocked()
	m.mu.Unlock()

	m.emit(changed...)

	go m.dial(ctx, gen, rawURL, 0)
	return nil
}

// Send queues or transmits a message. While connected the frame is written
// immediately; otherwise it joins the outbox and is flushed, in order, on the
// next successful connect. Delivery failures are never returned; the only
// error is a data value that cannot be encoded.
func (m *Manager) Send(msgType string, data any) error {
	msg, err := events.NewOutbound(msgType, data, m.now())
	if err != nil {
		return err
	}

	m.sendMu.Lock()

	m.mu.Lock()
	if m.state != StateConnected || m.link == nil {
		m.outbox.Push(msg)
		m.mu.Unlock()
		m.sendMu.Unlock()
		return nil
	}
	l := m.link
	m.mu.Unlock()

	err = m.transmit(l.conn, msg)
	if err == nil {
		m.sendMu.Unlock()
		return nil
	}

	// Keep the message and drop the link; the close triggers a reconnect
	// and the flush retries it.
	m.outbox.Push(msg)
	m.sendMu.Unlock()

	if !m.isCurrent(l.gen) {
		return nil
	}
	m.logger.Warn("send failed, message queued", "type", msgType, "error", err)
	m.emit(events.TransportError{Err: err})
	l.conn.Close()
	return nil
}

// On registers h for kind and returns its registration id.
// A nil handler is ignored and yields the zero id.
func (m *Manager) On(kind events.Kind, h Handler) HandlerID {
	if h == nil {
		return 0
	}
	return m.registry.add(kind, h)
}

// Off removes the registration id from kind. Reports whether it was found.
func (m *Manager) Off(kind events.Kind, id HandlerID) bool {
	return m.registry.remove(kind, id)
}

// OnAny registers h for every event, after the kind-specific handlers.
// Wildcard handlers do not make a frame count as handled.
func (m *Manager) OnAny(h Handler) HandlerID {
	if h == nil {
		return 0
	}
	return m.registry.addAny(h)
}

// OffAny removes a wildcard registration.
func (m *Manager) OffAny(id HandlerID) bool {
	return m.registry.removeAny(id)
}

// Subscribe registers a typed listener for the variant T. Variants without a
// fixed kind (events.Unknown) must use On instead; for them the zero id is returned.
func Subscribe[T events.Event](m *Manager, fn func(T) error) HandlerID {
	var zero T
	kind := zero.Kind()
	if kind == "" || fn == nil {
		return 0
	}
	return m.On(kind, func(ev events.Event) error {
		t, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(t)
	})
}

// Disconnect closes the link on purpose. No reconnect follows, pending
// dials and timers are abandoned, and queued messages stay in the outbox.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	l := m.link
	m.link = nil
	prev := m.state
	changed := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if l != nil {
		l.conn.Close()
	}

	if prev == StateDisconnected {
		return
	}

	m.logger.Info("stream disconnected by caller")
	m.emit(changed...)
	m.emit(events.Disconnected{Code: 1000, Reason: "client disconnect", Intentional: true})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempt returns the number of reconnect attempts since the last successful connect.
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Pending returns the number of queued outbound messages.
func (m *Manager) Pending() int {
	return m.outbox.Len()
}

// URL returns the endpoint of the last Connect call.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// dial opens a link and, on success, runs its read loop until it closes.
func (m *Manager) dial(ctx context.Context, gen uint64, rawURL string, attempt int) {
	m.logger.Debug("dialing stream", "url", rawURL, "attempt", attempt)

	conn, err := m.dialer.Dial(ctx, rawURL)

	m.sendMu.Lock()
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.sendMu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if err != nil {
		m.mu.Unlock()
		m.sendMu.Unlock()
		m.logger.Warn("stream dial failed", "url", rawURL, "attempt", attempt, "error", err)
		m.emit(events.TransportError{Err: err})
		m.handleClose(gen, CloseInfo{Code: CloseAbnormal, Reason: err.Error()})
		return
	}

	l := &link{conn: conn, gen: gen}
	m.link = l
	m.attempt = 0
	changed := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	flushed, flushErr := m.flush(conn)
	m.sendMu.Unlock()

	m.logger.Info("stream connected", "url", rawURL, "attempt", attempt, "flushed", flushed)
	m.emit(changed...)
	m.emit(events.Connected{URL: rawURL, Attempt: attempt})

	if flushErr != nil {
		m.logger.Warn("outbox flush failed", "error", flushErr, "remaining", m.outbox.Len())
		m.emit(events.TransportError{Err: flushErr})
		conn.Close()
	}

	m.run(l)
}

// run delivers frames from one link until it closes.
func (m *Manager) run(l *link) {
	errs := l.conn.Errors()
	msgs := l.conn.Messages()

	for {
		select {
		case err := <-errs:
			m.handleTransportError(l.gen, err)

		case msg, ok := <-msgs:
			if !ok {
				// Errors raised before the close are reported first.
				m.drainErrors(l.gen, errs)
				m.handleClose(l.gen, l.conn.CloseInfo())
				return
			}
			m.handleFrame(msg)
		}
	}
}

// handleFrame decodes and dispatches one inbound frame. Frames that are not
// JSON or carry no type are logged and dropped without touching the
// connection; any other frame is dispatched even if its payload is odd.
func (m *Manager) handleFrame(msg TimestampedMessage) {
	ev, err := events.Decode(msg.Data)
	if ev == nil {
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}
	if err != nil {
		m.logger.Debug("dispatching frame with unexpected payload shape", "type", ev.Kind(), "error", err)
	}

	if handled := m.dispatch(ev); handled == 0 {
		m.logger.Debug("unhandled event", "type", ev.Kind())
	}
}

func (m *Manager) drainErrors(gen uint64, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			m.handleTransportError(gen, err)
		default:
			return
		}
	}
}

func (m *Manager) handleTransportError(gen uint64, err error) {
	if !m.isCurrent(gen) {
		return
	}
	m.logger.Warn("stream transport error", "error", err)
	m.emit(events.TransportError{Err: err})
}

// handleClose reacts to an unintended close: schedule a reconnect, or give
// up once the attempt budget is spent.
func (m *Manager) handleClose(gen uint64, info CloseInfo) {
	if info.Code == 0 {
		info.Code = CloseAbnormal
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.link = nil
	changed := m.setStateLocked(StateDisconnected)
	closed := events.Disconnected{Code: info.Code, Reason: info.Reason}

	if m.attempt >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempt
		failed := m.setStateLocked(StateFailed)
		m.mu.Unlock()

		m.logger.Error("stream reconnect attempts exhausted", "attempts", attempts)
		m.emit(changed...)
		m.emit(closed)
		m.emit(failed...)
		m.emit(events.ReconnectExhausted{Attempts: attempts})
		return
	}

	m.attempt++
	attempt := m.attempt
	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)
	m.timer = time.AfterFunc(delay, func() {
		m.redial(gen, attempt)
	})
	m.mu.Unlock()

	m.logger.Info("stream closed, scheduling reconnect",
		"code", info.Code,
		"reason", info.Reason,
		"attempt", attempt,
		"delay", delay,
	)
	m.emit(changed...)
	m.emit(closed)
}

// redial runs when a reconnect timer fires, unless the manager moved on.
func (m *Manager) redial(gen uint64, attempt int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	rawURL := m.url
	ctx, newGen, changed := m.beginDialLocked()
	m.mu.Unlock()

	m.emit(changed...)
	m.dial(ctx, newGen, rawURL, attempt)
}

// beginDialLocked moves to Connecting under a fresh generation.
func (m *Manager) beginDialLocked() (context.Context, uint64, []events.Event) {
	if m.cancelDial != nil {
		m.cancelDial()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.gen++
	return ctx, m.gen, m.setStateLocked(StateConnecting)
}

// flush drains the outbox onto conn in FIFO order. On a write failure the
// failed message and everything after it go back to the head of the outbox.
// Callers hold sendMu.
func (m *Manager) flush(conn Conn) (int, error) {
	pending := m.outbox.Drain(0)
	for i, msg := range pending {
		if err := m.transmit(conn, msg); err != nil {
			m.outbox.PushFront(pending[i:]...)
			return i, err
		}
	}
	return len(pending), nil
}

func (m *Manager) transmit(conn Conn, msg events.OutboundMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return conn.Send(data)
}

func (m *Manager) setStateLocked(to State) []events.Event {
	from := m.state
	if from == to {
		return nil
	}
	m.state = to
	return []events.Event{events.StateChanged{From: from.String(), To: to.String()}}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// emit dispatches locally produced events.
func (m *Manager) emit(evs ...events.Event) {
	for _, ev := range evs {
		m.dispatch(ev)
	}
}

// dispatch runs every listener for ev in registration order and returns
// how many kind-specific listeners ran.
func (m *Manager) dispatch(ev events.Event) int {
	typed, wildcard := m.registry.snapshot(ev.Kind())
	for _, e := range typed {
		m.invoke(e, ev)
	}
	for _, e := range wildcard {
		m.invoke(e, ev)
	}
	return len(typed)
}

// invoke isolates one listener: errors and panics are logged, never propagated.
func (m *Manager) invoke(e handlerEntry, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event listener panicked",
				"type", ev.Kind(),
				"handler", e.id,
				"panic", r,
			)
		}
	}()

	if err := e.handler(ev); err != nil {
		m.logger.Warn("event listener failed",
			"type", ev.Kind(),
			"handler", e.id,
			"error", err,
		)
	}
}

// backoffDelay returns base * 2^(attempt-1), capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
