package sample

import (
	"errors"
	"math"
)

// DefaultHistorySize is ~20 seconds of samples at 80 Hz.
const DefaultHistorySize = 1600

// ErrEmpty is returned when averaging an empty history.
var ErrEmpty = errors.New("history is empty")

// History is a fixed-capacity FIFO window of raw samples.
// Internally it is a ring buffer with a running sum, so Push and Average are O(1).
// The sum is a float64 so that large raw values cannot wrap it. It is exact
// while every held value is within exact.
// It is not safe for concurrent use; the owner serializes access.
type History struct {
	buf   []int64
	start int // index of the oldest sample
	n     int
	sum   float64
	exact int64
}

// NewHistory creates a history holding at most size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		buf:   make([]int64, size),
		exact: (1 << 53) / int64(size),
	}
}

// Push appends v, evicting the oldest sample when full.
func (h *History) Push(v int64) {
	if h.n == len(h.buf) {
		old := h.buf[h.start]
		h.buf[h.start] = v
		h.start = (h.start + 1) % len(h.buf)
		if old > h.exact || old < -h.exact {
			h.resum()
			return
		}
		h.sum += float64(v) - float64(old)
		return
	}

	h.buf[(h.start+h.n)%len(h.buf)] = v
	h.n++
	h.sum += float64(v)
}

// PushFiltered applies the outlier rule before pushing: when v deviates from
// the current average by more than threshold, the history is cleared so the
// average follows a step change immediately. It reports whether it cleared.
func (h *History) PushFiltered(v int64, threshold float64) bool {
	reset := false
	if avg, err := h.Average(); err == nil && math.Abs(avg-float64(v)) > threshold {
		h.Clear()
		reset = true
	}
	h.Push(v)
	return reset
}

// Average returns the arithmetic mean of the held samples.
func (h *History) Average() (float64, error) {
	if h.n == 0 {
		return 0, ErrEmpty
	}
	return h.sum / float64(h.n), nil
}

// resum recomputes the sum after a large value leaves the window.
func (h *History) resum() {
	h.sum = 0
	for i := 0; i < h.n; i++ {
		h.sum += float64(h.buf[(h.start+i)%len(h.buf)])
	}
}

// Clear empties the history.
func (h *History) Clear() {
	h.start = 0
	h.n = 0
	h.sum = 0
}

// Len returns the number of held samples.
func (h *History) Len() int {
	return h.n
}

// Cap returns the capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Samples returns a copy of the held samples, oldest first.
func (h *History) Samples() []int64 {
	result := make([]int64, h.n)
	for i := 0; i < h.n; i++ {
		result[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return result
}
