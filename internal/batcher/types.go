package batcher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is delivered to operations added after Close
	ErrClosed = errors.New("batcher is closed")

	// ErrOperationPanicked wraps a panic recovered from an operation
	ErrOperationPanicked = errors.New("operation panicked")
)

// Operation is a deferred unit of work. It receives the context it was added with.
type Operation[T any] func(ctx context.Context) (T, error)

// Result is the settled outcome of one operation
type Result[T any] struct {
	Value T
	Err   error
}

// Stats describes flush activity since creation
type Stats struct {
	Pending      int    `json:"pending"`
	Batches      uint64 `json:"batches"`
	Items        uint64 `json:"items"`
	SizeFlushes  uint64 `json:"sizeFlushes"`
	TimerFlushes uint64 `json:"timerFlushes"`
}

// flushReason says what triggered a flush
type flushReason int

const (
	flushSize flushReason = iota
	flushTimer
	flushClose
)

func (r flushReason) String() string {
	switch r {
	case flushSize:
		return "size"
	case flushTimer:
		return "timer"
	default:
		return "close"
	}
}

// pendingItem is a single queued operation
type pendingItem[T any] struct {
	ctx        context.Context
	op         Operation[T]
	resultChan chan Result[T]
	enqueuedAt time.Time
}
