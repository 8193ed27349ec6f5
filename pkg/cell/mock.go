package cell

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/itohio/usbscale/pkg/config"
)

// ErrDetached is returned by MockPort.ReadLoop when the simulated device is unplugged.
var ErrDetached = errors.New("device detached")

// Mock simulates a load cell board for testing and development.
type Mock struct {
	cfg      *config.MockConfig
	vendorID int

	mu        sync.Mutex
	deny      bool
	busy      bool
	unplugged bool
	opened    int
	port      *MockPort
}

// NewMock creates a simulated load cell advertising vendorID.
func NewMock(cfg *config.MockConfig, vendorID int) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Base:       138300,
			Noise:      10,
			Load:       41408,
			LoadPeriod: 10 * time.Second,
			SampleRate: 12500 * time.Microsecond,
		}
	}
	if vendorID == 0 {
		vendorID = DefaultVendorID
	}

	// The simulation keeps its own copy; later edits apply to new mocks only.
	own := *cfg

	return &Mock{
		cfg:      &own,
		vendorID: vendorID,
		deny:     cfg.Deny,
	}
}

// ListDevices returns an unrelated adapter followed by the simulated sensor
// unless it is unplugged.
func (m *Mock) ListDevices() ([]Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := []Handle{
		{Name: "mock-ftdi", VendorID: 0x0403, ProductID: 0x6001, Product: "FT232R USB UART"},
	}
	if !m.unplugged {
		devices = append(devices, Handle{Name: "mock-loadcell", VendorID: m.vendorID, ProductID: 0x0483, SerialNumber: "LC0001", Product: "Load Cell"})
	}
	return devices, nil
}

// RequestPermission answers asynchronously with the configured decision.
func (m *Mock) RequestPermission(h Handle) <-chan bool {
	m.mu.Lock()
	granted := !m.deny
	m.mu.Unlock()

	result := make(chan bool, 1)
	result <- granted
	return result
}

// Open opens the simulated port.
func (m *Mock) Open(h Handle, lc LineConfig) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lc != DefaultLineConfig {
		return nil, fmt.Errorf("mock device only speaks %d 8N1", DefaultBaudRate)
	}
	if m.busy {
		return nil, fmt.Errorf("failed to open %s: port busy", h.Name)
	}
	if m.unplugged {
		return nil, fmt.Errorf("failed to open %s: %w", h.Name, ErrDetached)
	}

	m.opened++
	m.port = &MockPort{
		cfg:      m.cfg,
		closed:   make(chan struct{}),
		detached: make(chan struct{}),
	}
	return m.port, nil
}

// SetDeny makes subsequent permission requests fail.
func (m *Mock) SetDeny(deny bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deny = deny
}

// SetBusy makes subsequent Open calls fail.
func (m *Mock) SetBusy(busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = busy
}

// Opened returns how many times the port was opened.
func (m *Mock) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Detach simulates unplugging the device.
func (m *Mock) Detach() {
	m.mu.Lock()
	m.unplugged = true
	port := m.port
	m.mu.Unlock()
	if port != nil {
		port.detach()
	}
}

// Attach simulates plugging the device back in.
func (m *Mock) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unplugged = false
}

// MockPort is an open simulated port producing decimal frames.
type MockPort struct {
	cfg *config.MockConfig

	closeOnce  sync.Once
	detachOnce sync.Once
	closed     chan struct{}
	detached   chan struct{}

	// Simulation state, only touched by ReadLoop
	startTime time.Time
	frame     int
}

// ReadLoop emits one frame per sample interval until cancelled, closed or detached.
func (p *MockPort) ReadLoop(ctx context.Context, onChunk func(chunk []byte)) error {
	ticker := time.NewTicker(p.cfg.SampleRate)
	defer ticker.Stop()

	p.startTime = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		case <-p.detached:
			return ErrDetached
		case now := <-ticker.C:
			for _, chunk := range p.nextChunks(now) {
				onChunk(chunk)
			}
		}
	}
}

// Close closes the port.
func (p *MockPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *MockPort) detach() {
	p.detachOnce.Do(func() { close(p.detached) })
}

// nextChunks renders the next frame, split in two when configured.
func (p *MockPort) nextChunks(now time.Time) [][]byte {
	p.frame++
	line := strconv.AppendInt(nil, p.generateSample(now.Sub(p.startTime)), 10)
	line = append(line, '\r', '\n')

	if p.cfg.SplitEvery > 0 && p.frame%p.cfg.SplitEvery == 0 && len(line) > 3 {
		mid := (len(line) - 2) / 2
		return [][]byte{line[:mid], line[mid:]}
	}
	return [][]byte{line}
}

// generateSample generates a single raw reading at elapsed time.
func (p *MockPort) generateSample(elapsed time.Duration) int64 {
	value := p.cfg.Base

	// Load is applied during every other period.
	if p.cfg.LoadPeriod > 0 && (elapsed/p.cfg.LoadPeriod)%2 == 1 {
		value += p.cfg.Load
	}

	// Deterministic noise, same shape as a slow beat of two tones
	t := float64(elapsed.Nanoseconds())
	noise := (math.Sin(t*0.001) + math.Cos(t*0.0013)) * 0.5
	value += int64(math.Round(noise * float64(p.cfg.Noise)))

	if value < 0 {
		value = 0
	}
	return value
}
