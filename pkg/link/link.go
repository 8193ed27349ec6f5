// Package link tracks the connection lifecycle of the load cell:
// Disconnected -> AwaitingPermission -> Connected -> Disconnected.
package link

import (
	"errors"
	"fmt"

	"github.com/itohio/usbscale/pkg/cell"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "link")

var (
	// ErrNoDevice is returned when no sensor with the configured vendor id is present.
	ErrNoDevice = errors.New("no matching device")
	// ErrPermissionDenied is returned when access to the sensor is refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPortOpen is returned when the granted port fails to open.
	ErrPortOpen = errors.New("port open failed")
	// ErrInvalidTransition is returned for a request not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// State is the connection state.
type State int

const (
	// Disconnected is the initial state. No samples are accepted.
	Disconnected State = iota
	// AwaitingPermission means a device was selected and access was requested.
	AwaitingPermission
	// Connected means the port is open and samples flow.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AwaitingPermission:
		return "awaiting permission"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ButtonLabel is the label of the connect control in state s.
func ButtonLabel(s State) string {
	if s == Disconnected {
		return "Connect"
	}
	return "Disconnect"
}

// ControlsEnabled reports whether tare and calibrate are usable in state s.
func ControlsEnabled(s State) bool {
	return s == Connected
}

// Transition describes a state change.
type Transition struct {
	From, To State
	Session  uint64
	Device   cell.Handle
	Err      error // Why the link fell back to Disconnected, if it did so on failure
}

// Link is the connection state machine. It is not safe for concurrent use;
// the owner serializes all calls.
type Link struct {
	transport cell.Transport
	vendorID  int

	state   State
	device  cell.Handle
	port    cell.Port
	session uint64

	observer func(Transition)
}

// New creates a link selecting the first device with vendorID.
func New(transport cell.Transport, vendorID int) *Link {
	if vendorID == 0 {
		vendorID = cell.DefaultVendorID
	}
	return &Link{
		transport: transport,
		vendorID:  vendorID,
		state:     Disconnected,
	}
}

// Observe registers a function called on every transition.
func (l *Link) Observe(fn func(Transition)) {
	l.observer = fn
}

// State returns the current state.
func (l *Link) State() State {
	return l.state
}

// Device returns the device of the current attempt or connection.
func (l *Link) Device() cell.Handle {
	return l.device
}

// Port returns the open port while Connected.
func (l *Link) Port() cell.Port {
	return l.port
}

// Session identifies the current connect attempt. It changes on every
// RequestConnect so that late events from an earlier attempt can be told apart.
func (l *Link) Session() uint64 {
	return l.session
}

// RequestConnect selects the sensor and asks for permission to use it.
// The returned channel yields the permission decision, which must be passed to PermissionResult.
func (l *Link) RequestConnect() (cell.Handle, <-chan bool, error) {
	if l.state != Disconnected {
		return cell.Handle{}, nil, fmt.Errorf("%w: connect while %s", ErrInvalidTransition, l.state)
	}

	devices, err := l.transport.ListDevices()
	if err != nil {
		return cell.Handle{}, nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, d := range devices {
		log.WithFields(logrus.Fields{"port": d.Name, "vid": d.VendorID}).Debug("Found device")
	}

	device, found := selectDevice(devices, l.vendorID)
	if !found {
		return cell.Handle{}, nil, fmt.Errorf("%w: vendor id %d among %d devices", ErrNoDevice, l.vendorID, len(devices))
	}

	l.session++
	l.device = device
	result := l.transport.RequestPermission(device)
	l.transition(AwaitingPermission, nil)

	return device, result, nil
}

// PermissionResult completes a connect attempt. On success the port is open
// with the fixed line configuration and the link is Connected.
func (l *Link) PermissionResult(granted bool) (cell.Port, error) {
	if l.state != AwaitingPermission {
		return nil, fmt.Errorf("%w: permission result while %s", ErrInvalidTransition, l.state)
	}

	if !granted {
		err := fmt.Errorf("%w: %s", ErrPermissionDenied, l.device.Name)
		l.transition(Disconnected, err)
		return nil, err
	}

	port, err := l.transport.Open(l.device, cell.DefaultLineConfig)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPortOpen, err)
		l.transition(Disconnected, err)
		return nil, err
	}

	l.port = port
	l.transition(Connected, nil)
	return port, nil
}

// Disconnect closes any open port and returns to Disconnected. Valid from any state.
// The link is Disconnected even when closing the port fails.
func (l *Link) Disconnect() error {
	var err error
	if l.port != nil {
		if cerr := l.port.Close(); cerr != nil {
			err = fmt.Errorf("failed to close port: %w", cerr)
		}
		l.port = nil
	}

	if l.state != Disconnected {
		l.transition(Disconnected, nil)
	}
	return err
}

func (l *Link) transition(to State, err error) {
	t := Transition{From: l.state, To: to, Session: l.session, Device: l.device, Err: err}
	l.state = to
	if to == Disconnected {
		l.port = nil
	}

	entry := log.WithFields(logrus.Fields{
		"from":    t.From,
		"to":      t.To,
		"session": t.Session,
		"port":    t.Device.Name,
	})
	if err != nil {
		entry.WithError(err).Warn("Connection state changed")
	} else {
		entry.Info("Connection state changed")
	}

	if l.observer != nil {
		l.observer(t)
	}
}

func selectDevice(devices []cell.Handle, vendorID int) (cell.Handle, bool) {
	for _, d := range devices {
		if d.VendorID == vendorID {
			return d, true
		}
	}
	return cell.Handle{}, false
}
