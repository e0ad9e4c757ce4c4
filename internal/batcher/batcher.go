package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBatchSize is used when a non-positive batch size is given
	DefaultBatchSize = 10
	// DefaultBatchTimeout is used when a non-positive timeout is given
	DefaultBatchTimeout = 100 * time.Millisecond
)

// Batcher queues operations and executes them in size- or time-bounded groups
type Batcher[T any] struct {
	batchSize int
	timeout   time.Duration

	pending []*pendingItem[T]
	timer   *time.Timer
	// timerGen is bumped whenever the timer is stopped so that a callback
	// already in flight for an old timer never flushes a newer group
	timerGen uint64
	closed   bool
	stats    Stats

	inflight sync.WaitGroup
	logger   zerolog.Logger
	mu       sync.Mutex
}

// New creates a batcher flushing at batchSize items or after timeout
func New[T any](batchSize int, timeout time.Duration, logger zerolog.Logger) *Batcher[T] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}

	return &Batcher[T]{
		batchSize: batchSize,
		timeout:   timeout,
		pending:   make([]*pendingItem[T], 0, batchSize),
		logger:    logger.With().Str("component", "batcher").Logger(),
	}
}

// Add queues op and returns a channel that receives exactly one Result once
// op completes. If op never returns, neither does the channel.
func (b *Batcher[T]) Add(ctx context.Context, op Operation[T]) <-chan Result[T] {
	resultChan := make(chan Result[T], 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		resultChan <- Result[T]{Err: ErrClosed}
		return resultChan
	}

	b.pending = append(b.pending, &pendingItem[T]{
		ctx:        ctx,
		op:         op,
		resultChan: resultChan,
		enqueuedAt: time.Now(),
	})

	if len(b.pending) >= b.batchSize {
		items := b.takeLocked(flushSize)
		b.mu.Unlock()
		b.execute(items, flushSize)
		return resultChan
	}

	b.startTimerLocked()
	b.mu.Unlock()

	return resultChan
}

// startTimerLocked starts the flush timer if it is not already running
func (b *Batcher[T]) startTimerLocked() {
	if b.timer != nil || len(b.pending) == 0 {
		return
	}
	gen := b.timerGen
	b.timer = time.AfterFunc(b.timeout, func() {
		b.onTimer(gen)
	})
}

// stopTimerLocked cancels the flush timer and invalidates any pending callback
func (b *Batcher[T]) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}

func (b *Batcher[T]) onTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.timerGen || b.closed {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	items := b.takeLocked(flushTimer)
	b.mu.Unlock()

	b.execute(items, flushTimer)
}

// takeLocked removes up to batchSize items from the queue and restarts the
// timer for anything left behind
func (b *Batcher[T]) takeLocked(reason flushReason) []*pendingItem[T] {
	b.stopTimerLocked()

	n := min(len(b.pending), b.batchSize)
	if n == 0 {
		return nil
	}

	items := make([]*pendingItem[T], n)
	copy(items, b.pending[:n])
	remaining := copy(b.pending, b.pending[n:])
	for i := remaining; i < len(b.pending); i++ {
		b.pending[i] = nil
	}
	b.pending = b.pending[:remaining]

	// counted under the lock so Close observes every taken item
	b.inflight.Add(n)

	b.stats.Batches++
	b.stats.Items += uint64(n)
	switch reason {
	case flushSize:
		b.stats.SizeFlushes++
	case flushTimer:
		b.stats.TimerFlushes++
	}

	if !b.closed {
		b.startTimerLocked()
	}

	return items
}

// execute runs every item concurrently and settles each one independently
func (b *Batcher[T]) execute(items []*pendingItem[T], reason flushReason) {
	if len(items) == 0 {
		return
	}

	b.logger.Debug().
		Int("items", len(items)).
		Str("reason", reason.String()).
		Dur("oldest", time.Since(items[0].enqueuedAt)).
		Msg("flushing batch")

	for _, item := range items {
		go b.run(item)
	}
}

func (b *Batcher[T]) run(item *pendingItem[T]) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("batched operation panicked")
			item.resultChan <- Result[T]{Err: fmt.Errorf("%w: %v", ErrOperationPanicked, r)}
		}
	}()

	value, err := item.op(item.ctx)
	item.resultChan <- Result[T]{Value: value, Err: err}
}

// Pending returns the number of queued items not yet flushed
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns flush counters
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.stats
	stats.Pending = len(b.pending)
	return stats
}

// Close stops the timer, flushes everything still pending in groups of
// batchSize and waits for in-flight operations until ctx is done.
// Operations added afterwards fail with ErrClosed.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var groups [][]*pendingItem[T]
	for len(b.pending) > 0 {
		groups = append(groups, b.takeLocked(flushClose))
	}
	b.stopTimerLocked()
	b.mu.Unlock()

	for _, items := range groups {
		b.execute(items, flushClose)
	}

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Int("flushedGroups", len(groups)).Msg("batcher closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for batched operations: %w", ctx.Err())
	}
}
