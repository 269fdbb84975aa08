package journal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/queue"
	"github.com/rickgao/cogdash/internal/stream"
)

const insertSQL = `
	INSERT INTO stream_events (event_id, kind, payload, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (event_id) DO NOTHING
`

// ErrWriterStopped is returned by Record after Stop.
var ErrWriterStopped = errors.New("journal writer stopped")

// BatchSender sends a batch of queries. *pgxpool.Pool implements it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // events held in memory before new ones are dropped
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

type row struct {
	EventID    uuid.UUID
	Kind       string
	Payload    []byte
	ReceivedAt time.Time
}

// Writer batches events into the stream_events table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender
	now    func() time.Time

	input *queue.Buffer[row]

	// Batching
	batch   []row
	batchMu sync.Mutex

	// Lifecycle
	cancel      context.CancelFunc
	cancelDrain context.CancelFunc
	consumed    chan struct{}
	wg       sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewWriter creates a writer. Call Start before recording events.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		now:    time.Now,
		input:  queue.New[row](min(cfg.BatchSize*2, max(cfg.BufferSize, 1))),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Attach records every event the manager emits.
func (w *Writer) Attach(m *stream.Manager) stream.HandlerID {
	return m.OnAny(w.Record)
}

// Record queues one event. It is a stream.Handler.
func (w *Writer) Record(ev events.Event) error {
	payload, err := encodePayload(ev)
	if err != nil {
		return err
	}

	if w.cfg.BufferSize > 0 && w.input.Len() >= w.cfg.BufferSize {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		return nil
	}

	r := row{
		EventID:    uuid.New(),
		Kind:       string(ev.Kind()),
		Payload:    payload,
		ReceivedAt: w.now(),
	}
	if !w.input.Push(r) {
		return ErrWriterStopped
	}
	return nil
}

// Start begins consuming events and writing to the database. Cancelling ctx
// stops the flush ticker; queued events are still written until Stop.
func (w *Writer) Start(ctx context.Context) error {
	// The consumer outlives ctx so a shutdown signal does not fail the drain.
	// Stop cancels it if its own deadline passes first.
	var drainCtx context.Context
	drainCtx, w.cancelDrain = context.WithCancel(context.WithoutCancel(ctx))
	ctx, w.cancel = context.WithCancel(ctx)
	w.consumed = make(chan struct{})

	// Consumer goroutine
	go w.consumeLoop(drainCtx)

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop(ctx)

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes them, and shuts down. ctx bounds the
// wait and the final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// The consumer drains what is left, then exits.
	w.input.Close()

	var err error
	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("journal writer stop timed out")
			err = ctx.Err()
		}
	}
	if w.cancelDrain != nil {
		w.cancelDrain()
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	// Final flush
	w.flush(ctx)

	w.logger.Info("journal writer stopped", "inserts", w.Stats().Inserts)
	return err
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves events from the input buffer into batches until the
// buffer is closed and empty.
func (w *Writer) consumeLoop(ctx context.Context) {
	defer close(w.consumed)

	for {
		r, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handleRow(ctx, r)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	if w.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Writer) handleRow(ctx context.Context, r row) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.EventID, r.Kind, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// encodePayload returns the JSON stored for ev: the raw frame data for wire
// events, a small summary object for lifecycle events.
func encodePayload(ev events.Event) ([]byte, error) {
	if raw := events.Payload(ev); raw != nil {
		return raw, nil
	}

	var v any
	switch e := ev.(type) {
	case events.Connected:
		v = map[string]any{"url": e.URL, "attempt": e.Attempt}
	case events.Disconnected:
		v = map[string]any{"code": e.Code, "reason": e.Reason, "intentional": e.Intentional}
	case events.TransportError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		v = map[string]any{"error": msg}
	case events.ReconnectExhausted:
		v = map[string]any{"attempts": e.Attempts}
	case events.StateChanged:
		v = map[string]any{"from": e.From, "to": e.To}
	default:
		return nil, nil
	}
	return json.Marshal(v)
}
