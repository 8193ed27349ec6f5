package cell

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Watch enumerates devices.
const DefaultPollInterval = time.Second

// EventKind tells whether a device appeared or disappeared.
type EventKind int

const (
	Attached EventKind = iota
	Detached
)

func (k EventKind) String() string {
	if k == Attached {
		return "attached"
	}
	return "detached"
}

// Event reports a sensor being plugged in or unplugged.
type Event struct {
	Kind   EventKind
	Device Handle
}

// Watch polls e every interval and calls fn for each device with vendorID
// that appears or disappears. Devices present on the first poll are not
// reported. It returns when ctx is done.
func Watch(ctx context.Context, e Enumerator, vendorID int, interval time.Duration, fn func(Event)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	known, _ := matching(e, vendorID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := matching(e, vendorID)
		if err != nil {
			log.WithError(err).Debug("Device enumeration failed")
			continue
		}

		for name, h := range known {
			if _, ok := current[name]; !ok {
				log.WithField("port", name).Info("Device detached")
				fn(Event{Kind: Detached, Device: h})
			}
		}
		for name, h := range current {
			if _, ok := known[name]; !ok {
				log.WithField("port", name).Info("Device attached")
				fn(Event{Kind: Attached, Device: h})
			}
		}
		known = current
	}
}

func matching(e Enumerator, vendorID int) (map[string]Handle, error) {
	devices, err := e.ListDevices()
	if err != nil {
		return map[string]Handle{}, err
	}

	result := make(map[string]Handle)
	for _, d := range devices {
		if d.VendorID == vendorID {
			result[d.Name] = d
		}
	}
	return result, nil
}
