package scope

import (
	"time"

	"github.com/itohio/usbscale/pkg/sample"
)

// trace is a time-windowed series of calibrated readings with the times the
// smoothing window was reset.
type trace struct {
	window time.Duration
	points []sample.Point
	resets []time.Time
}

func (t *trace) add(p sample.Point, reset bool) {
	if n := len(t.points); n > 0 && p.Timestamp.Before(t.points[n-1].Timestamp) {
		// Clock went backwards; start over rather than draw a loop.
		t.clear()
	}
	t.points = append(t.points, p)
	if reset {
		t.resets = append(t.resets, p.Timestamp)
	}
	t.trim(p.Timestamp)
}

// trim drops everything older than window before now.
func (t *trace) trim(now time.Time) {
	cutoff := now.Add(-t.window)

	i := 0
	for i < len(t.points) && t.points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.points = append(t.points[:0], t.points[i:]...)
	}

	j := 0
	for j < len(t.resets) && t.resets[j].Before(cutoff) {
		j++
	}
	if j > 0 {
		t.resets = append(t.resets[:0], t.resets[j:]...)
	}
}

func (t *trace) clear() {
	t.points = t.points[:0]
	t.resets = t.resets[:0]
}

// valueRange returns the Y range of points with a 10% margin.
func valueRange(points []sample.Point) (lo, hi float64) {
	if len(points) == 0 {
		return 0, 1
	}

	lo, hi = points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}

	span := hi - lo
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	return lo - margin, hi + margin
}

// timeRange returns the X range of points, at least window wide.
func timeRange(points []sample.Point, window time.Duration) (start, end time.Time) {
	if len(points) == 0 {
		now := time.Now()
		return now, now.Add(window)
	}

	start = points[0].Timestamp
	end = points[len(points)-1].Timestamp
	if end.Sub(start) < window {
		end = start.Add(window)
	}
	return start, end
}
