package cell

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the baud rate of the load cell firmware.
	DefaultBaudRate = 115200
	// DefaultVendorID is the USB vendor id of the sensor board.
	DefaultVendorID = 5824
	// readBufferSize is the size of a single read from the port.
	readBufferSize = 256
)

var log = logrus.WithField("component", "cell")

// Parity selects the parity mode of the serial line.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// LineConfig describes the serial line settings.
type LineConfig struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	FlowControl bool
}

// DefaultLineConfig is the fixed line configuration spoken by the sensor:
// 115200 baud, 8 data bits, 1 stop bit, no parity, no flow control.
var DefaultLineConfig = LineConfig{
	BaudRate: DefaultBaudRate,
	DataBits: 8,
	StopBits: 1,
	Parity:   ParityNone,
}

// mode converts the line configuration to a serial.Mode.
func (lc LineConfig) mode() (*serial.Mode, error) {
	if lc.FlowControl {
		return nil, fmt.Errorf("hardware flow control is not supported")
	}

	mode := &serial.Mode{
		BaudRate: lc.BaudRate,
		DataBits: lc.DataBits,
	}

	switch lc.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", lc.StopBits)
	}

	switch lc.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %d", lc.Parity)
	}

	return mode, nil
}

// Serial reaches sensors attached as USB serial ports.
type Serial struct{}

// NewSerial creates a serial transport.
func NewSerial() *Serial {
	return &Serial{}
}

// ListDevices returns all serial ports with their USB identifiers.
// Ports that are not USB devices are reported with VendorID 0.
func (s *Serial) ListDevices() ([]Handle, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Handle, 0, len(ports))
	for _, p := range ports {
		h := Handle{
			Name:         p.Name,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		}
		if p.IsUSB {
			h.VendorID = parseUSBID(p.VID)
			h.ProductID = parseUSBID(p.PID)
		}
		result = append(result, h)
	}

	return result, nil
}

// parseUSBID parses a hexadecimal USB id as reported by the enumerator.
func parseUSBID(id string) int {
	v, err := strconv.ParseUint(id, 16, 16)
	if err != nil {
		return 0
	}
	return int(v)
}

// RequestPermission probes the port. Permission is denied only when the OS
// refuses access; a busy port is left for Open to report.
func (s *Serial) RequestPermission(h Handle) <-chan bool {
	result := make(chan bool, 1)

	go func() {
		port, err := serial.Open(h.Name, &serial.Mode{BaudRate: DefaultBaudRate})
		if err != nil {
			var portErr *serial.PortError
			if errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied {
				log.WithField("port", h.Name).Warn("Access to serial port denied")
				result <- false
				return
			}
			result <- true
			return
		}
		if err := port.Close(); err != nil {
			log.WithError(err).WithField("port", h.Name).Warn("Error closing probed serial port")
		}
		result <- true
	}()

	return result
}

// Open opens the serial port described by h.
func (s *Serial) Open(h Handle, lc LineConfig) (Port, error) {
	mode, err := lc.mode()
	if err != nil {
		return nil, err
	}

	conn, err := serial.Open(h.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", h.Name, err)
	}

	return &SerialPort{name: h.Name, conn: conn}, nil
}

// SerialPort is an open serial port.
type SerialPort struct {
	name string

	mu     sync.Mutex
	conn   serial.Port
	closed bool
}

// ReadLoop reads from the port until ctx is cancelled, the port is closed or
// the read fails (e.g. the device was unplugged).
func (p *SerialPort) ReadLoop(ctx context.Context, onChunk func(chunk []byte)) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("serial port %s is closed", p.name)
	}

	// Closing the port unblocks a pending Read.
	stop := context.AfterFunc(ctx, func() {
		_ = p.Close()
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			onChunk(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil || p.isClosed() {
				return nil
			}
			return fmt.Errorf("failed to read from serial port %s: %w", p.name, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close closes the port. Closing twice is a no-op.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close serial port %s: %w", p.name, err)
		}
	}
	return nil
}

func (p *SerialPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
