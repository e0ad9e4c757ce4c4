package upstream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoEndpoint is returned when a client has neither an HTTP nor a WebSocket URL
var ErrNoEndpoint = errors.New("no endpoint configured")

// TransportError is a failure to reach the endpoint or to read a well-formed
// reply from it. JSON-RPC error objects are not transport errors.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err (or anything it wraps) is a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Config for creating a new Client
type Config struct {
	Name           string
	RPCURL         string
	WSURL          string
	RateLimit      float64 // requests per second, 0 = unlimited
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Status tracks what health probes last observed about an endpoint
type Status struct {
	currentBlock atomic.Uint64
	lastProbeAt  atomic.Int64
	requestCount atomic.Uint64
}

// CurrentBlock returns the highest block number observed
func (s *Status) CurrentBlock() uint64 {
	return s.currentBlock.Load()
}

// UpdateBlock records block if it is higher than the current one.
// Returns true if the block was updated.
func (s *Status) UpdateBlock(block uint64) bool {
	s.lastProbeAt.Store(time.Now().UnixNano())
	for {
		current := s.currentBlock.Load()
		if block <= current {
			return false
		}
		if s.currentBlock.CompareAndSwap(current, block) {
			return true
		}
	}
}

// LastProbeAt returns when the block number was last recorded
func (s *Status) LastProbeAt() time.Time {
	ns := s.lastProbeAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RequestCount returns the number of requests sent to the endpoint
func (s *Status) RequestCount() uint64 {
	return s.requestCount.Load()
}
