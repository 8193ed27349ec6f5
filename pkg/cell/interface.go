package cell

import "context"

// Handle identifies an enumerated device.
type Handle struct {
	Name         string // Port name, e.g. /dev/ttyACM0 or COM3
	VendorID     int
	ProductID    int
	SerialNumber string
	Product      string
}

// Enumerator lists the devices currently attached.
type Enumerator interface {
	ListDevices() ([]Handle, error)
}

// Permitter asks the platform for access to a device.
// The returned channel receives exactly one value and must not block the caller.
type Permitter interface {
	RequestPermission(h Handle) <-chan bool
}

// Opener opens a device with the given line configuration.
type Opener interface {
	Open(h Handle, lc LineConfig) (Port, error)
}

// Port is an open serial link.
type Port interface {
	// ReadLoop delivers chunks in arrival order until ctx is cancelled, the
	// port is closed (both return nil) or a read fails.
	// The chunk passed to onChunk is only valid during the call.
	ReadLoop(ctx context.Context, onChunk func(chunk []byte)) error
	Close() error
}

// Transport bundles the collaborators needed to reach a sensor.
type Transport interface {
	Enumerator
	Permitter
	Opener
}

var (
	_ Transport = (*Serial)(nil)
	_ Transport = (*Mock)(nil)
	_ Port      = (*SerialPort)(nil)
	_ Port      = (*MockPort)(nil)
)
