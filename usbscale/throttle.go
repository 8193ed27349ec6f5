package main

import (
	"sync"
	"time"

	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/meter"
)

// throttle limits how often plain readings reach a presenter. State changes
// and status messages always pass.
type throttle struct {
	interval time.Duration

	mu      sync.Mutex
	started bool
	last    time.Time
	state   link.State
}

func (t *throttle) allow(u meter.Update) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && u.State == t.state && u.Status == "" && u.Time.Sub(t.last) < t.interval {
		return false
	}

	t.started = true
	t.state = u.State
	t.last = u.Time
	return true
}
