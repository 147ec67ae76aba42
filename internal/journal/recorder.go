// Package journal records order lifecycle events to SQLite.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/pkg/db"
	"github.com/grandb369/tradebot/pkg/logging"
)

// Metrics provides statistics about journal writes.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// Recorder subscribes to every lifecycle topic and writes rows in batches.
// Publishing never waits on the database.
type Recorder struct {
	db       *db.Database
	logger   *zap.SugaredLogger
	maxSize  int
	interval time.Duration

	mu      sync.Mutex
	buffer  []db.OrderEvent
	last    db.Position
	hasLast bool
	metrics Metrics

	writes  atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64

	unsubs []func()
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder. maxSize rows trigger an early flush;
// otherwise the buffer is flushed every interval.
func NewRecorder(database *db.Database, maxSize int, interval time.Duration, logger *zap.SugaredLogger) *Recorder {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Recorder{
		db:       database,
		logger:   logging.OrNop(logger),
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.OrderEvent, 0, maxSize),
		done:     make(chan struct{}),
	}
}

// Start subscribes to bus and begins background flushing.
func (r *Recorder) Start(bus *events.Bus) {
	for _, topic := range events.All {
		ch, unsub := bus.Subscribe(topic, 256)
		r.unsubs = append(r.unsubs, unsub)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for msg := range ch {
				if ev, ok := msg.(events.OrderEvent); ok {
					r.Add(ev)
				}
			}
		}()
	}
	r.wg.Add(1)
	go r.backgroundFlush()
}

// Add buffers one event.
func (r *Recorder) Add(ev events.OrderEvent) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := db.OrderEvent{
		ID:        uuid.NewString(),
		EventType: string(ev.Type),
		Symbol:    ev.Symbol,
		OrderID:   ev.OrderID,
		LinkedID:  ev.LinkedID,
		Role:      ev.Role,
		Side:      ev.Side,
		Qty:       ev.Qty,
		Price:     ev.Price,
		Detail:    ev.Detail,
		CreatedAt: ts,
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, row)
	if ev.Type == events.EventPositionUpdate {
		r.last = db.Position{Symbol: ev.Symbol, Qty: ev.Qty, AvgPrice: ev.Price, UpdatedAt: ts}
		r.hasLast = true
	}
	shouldFlush := len(r.buffer) >= r.maxSize
	r.mu.Unlock()

	if shouldFlush {
		r.Flush()
	}
}

// Flush writes all buffered rows in one transaction.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	rows := r.buffer
	pos, hasPos := r.last, r.hasLast
	r.buffer = make([]db.OrderEvent, 0, r.maxSize)
	r.hasLast = false
	r.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.db.InsertOrderEvents(ctx, rows)
	if err == nil {
		r.writes.Add(uint64(len(rows)))
		r.batches.Add(1)
	}
	if err == nil && hasPos {
		err = r.db.UpsertPosition(ctx, pos)
	}

	r.mu.Lock()
	r.metrics.LastBatchSize = len(rows)
	r.metrics.LastFlushTime = time.Now()
	r.mu.Unlock()

	if err != nil {
		r.errors.Add(1)
		r.logger.Errorw("journal_flush_failed", "rows", len(rows), "error", err)
		return err
	}
	r.logger.Debugw("journal_flushed", "rows", len(rows))
	return nil
}

func (r *Recorder) backgroundFlush() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush()
		case <-r.done:
			return
		}
	}
}

// Pending returns the number of buffered rows.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// GetMetrics returns write statistics.
func (r *Recorder) GetMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	m.TotalWrites = r.writes.Load()
	m.TotalBatches = r.batches.Load()
	m.TotalErrors = r.errors.Load()
	return m
}

// Close unsubscribes, drains and writes what is left.
func (r *Recorder) Close() error {
	for _, unsub := range r.unsubs {
		unsub()
	}
	close(r.done)
	r.wg.Wait()
	return r.Flush()
}
