package monitor

import (
	"sort"
	"time"
)

// window is a fixed-capacity ring of latency samples.
// Writing to a full window overwrites the oldest sample.
type window struct {
	samples  []time.Duration
	capacity int
	head     int // next write position
	size     int
	sum      time.Duration
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{
		samples:  make([]time.Duration, capacity),
		capacity: capacity,
	}
}

// push appends a sample, dropping the oldest once full
func (w *window) push(d time.Duration) {
	if w.size == w.capacity {
		w.sum -= w.samples[w.head]
	} else {
		w.size++
	}
	w.samples[w.head] = d
	w.sum += d
	w.head = (w.head + 1) % w.capacity
}

// mean returns the arithmetic mean of the current samples, 0 if empty
func (w *window) mean() time.Duration {
	if w.size == 0 {
		return 0
	}
	return w.sum / time.Duration(w.size)
}

// sorted returns a sorted copy of the current samples
func (w *window) sorted() []time.Duration {
	out := make([]time.Duration, 0, w.size)
	start := (w.head - w.size + w.capacity) % w.capacity
	for i := 0; i < w.size; i++ {
		out = append(out, w.samples[(start+i)%w.capacity])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *window) reset() {
	for i := range w.samples {
		w.samples[i] = 0
	}
	w.head = 0
	w.size = 0
	w.sum = 0
}

// percentile picks the sample at index ceil(p/100*n)-1, clamped to [0, n-1].
// sorted must be in ascending order; an empty slice yields 0.
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := ceilIndex(p, n)
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// ceilIndex computes ceil(p/100*n)-1 without float rounding surprises for whole results
func ceilIndex(p float64, n int) int {
	scaled := p * float64(n)
	whole := int(scaled) / 100
	if float64(whole*100) < scaled {
		whole++
	}
	return whole - 1
}
