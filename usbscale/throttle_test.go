package main

import (
	"testing"
	"time"

	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/meter"
	"github.com/stretchr/testify/assert"
)

func TestThrottle_Allow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	tests := []struct {
		name   string
		update meter.Update
		want   bool
	}{
		{"first update", meter.Update{Time: at(0), State: link.Connected}, true},
		{"too soon", meter.Update{Time: at(50), State: link.Connected}, false},
		{"still too soon", meter.Update{Time: at(99), State: link.Connected}, false},
		{"interval elapsed", meter.Update{Time: at(100), State: link.Connected}, true},
		{"status passes", meter.Update{Time: at(101), State: link.Connected, Status: "Tared"}, true},
		{"state change passes", meter.Update{Time: at(102), State: link.Disconnected}, true},
		{"same state too soon", meter.Update{Time: at(103), State: link.Disconnected}, false},
	}

	th := throttle{interval: 100 * time.Millisecond}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.allow(tt.update))
		})
	}
}

func TestThrottle_ZeroInterval(t *testing.T) {
	th := throttle{}
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, th.allow(meter.Update{Time: now, State: link.Connected}))
	}
}
