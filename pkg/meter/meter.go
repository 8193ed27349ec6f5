package meter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/usbscale/pkg/calibration"
	"github.com/itohio/usbscale/pkg/cell"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/sample"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "meter")

var (
	// ErrNoSamples is returned by Tare and Calibrate before any sample arrived.
	ErrNoSamples = errors.New("no samples received yet")
	// ErrNotConnected is returned by Tare and Calibrate while not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("meter closed")
)

// Update is a consistent snapshot handed to presenters.
type Update struct {
	Time     time.Time
	State    link.State
	Device   string
	Text     string  // Formatted reading, or calibration.Placeholder
	Value    float64 // Calibrated value, valid when HasValue
	HasValue bool
	Average  float64 // Smoothed raw counts, valid when HasValue
	Samples  int     // Samples in the smoothing window
	Reset    bool    // The window was reset by an outlier on this sample
	Tare     float64
	Scale    float64

	Button          string // Connect control label
	ControlsEnabled bool   // Tare and calibrate usable
	Status          string // Operator-facing message, empty for plain readings
	Err             error
}

type chunk struct {
	session uint64
	data    []byte
}

// session is one Connected period with its reader and processor goroutines.
type session struct {
	id     uint64
	cancel context.CancelFunc
}

// Meter turns raw serial chunks into calibrated readings.
// All state is owned by mu; updates are delivered in order without holding mu.
type Meter struct {
	bufSize int

	mu      sync.Mutex
	link    *link.Link
	model   *calibration.Model
	history *sample.History
	current *session
	last    Update
	closed  bool
	quit    chan struct{}

	// Held while delivering an update; taken before mu is released so
	// updates reach callbacks in the order they were built.
	notifyMu sync.Mutex

	callbacks []func(Update)
	cbMu      sync.RWMutex

	wg sync.WaitGroup
}

// New creates a meter reaching the sensor through transport.
func New(cfg *config.Config, transport cell.Transport) (*Meter, error) {
	model, err := calibration.New(cfg.Calibration.Tare, cfg.Calibration.Scale)
	if err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	bufSize := cfg.Serial.BufferSize
	if bufSize <= 0 {
		bufSize = 100
	}

	m := &Meter{
		bufSize: bufSize,
		link:    link.New(transport, cfg.Serial.VendorID),
		model:   model,
		history: sample.NewHistory(cfg.Filter.HistorySize),
		quit:    make(chan struct{}),
	}
	m.last = m.baseUpdateLocked()

	return m, nil
}

// OnUpdate registers a callback invoked for every update.
// Callbacks must return quickly and must not call back into the Meter synchronously.
func (m *Meter) OnUpdate(callback func(Update)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Snapshot returns the most recent update.
func (m *Meter) Snapshot() Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// State returns the connection state.
func (m *Meter) State() link.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link.State()
}

// Connect starts a connect attempt. The attempt completes asynchronously once
// the permission decision arrives.
func (m *Meter) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	device, result, err := m.link.RequestConnect()
	if err != nil {
		log.WithError(err).Warn("Connect failed")
		u := m.readingLocked()
		u.Status = err.Error()
		u.Err = err
		m.emitAndUnlock(u)
		return err
	}

	id := m.link.Session()
	u := m.baseUpdateLocked()
	u.Status = fmt.Sprintf("Waiting for permission to use %s", device.Name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case granted := <-result:
			_ = m.permissionResult(id, granted)
		case <-m.quit:
		}
	}()

	m.emitAndUnlock(u)
	return nil
}

// permissionResult completes the connect attempt id.
func (m *Meter) permissionResult(id uint64, granted bool) error {
	m.mu.Lock()
	if m.closed || id != m.link.Session() || m.link.State() != link.AwaitingPermission {
		m.mu.Unlock()
		log.WithField("session", id).Debug("Ignoring stale permission result")
		return fmt.Errorf("%w: stale permission result", link.ErrInvalidTransition)
	}

	port, err := m.link.PermissionResult(granted)
	if err != nil {
		log.WithError(err).Warn("Connect failed")
		m.history.Clear()
		u := m.baseUpdateLocked()
		u.Status = err.Error()
		u.Err = err
		m.emitAndUnlock(u)
		return err
	}

	m.history.Clear()
	m.startSessionLocked(id, port)

	u := m.baseUpdateLocked()
	u.Status = fmt.Sprintf("Connected to %s", m.link.Device().Name)
	m.emitAndUnlock(u)
	return nil
}

// startSessionLocked starts the reader and processor goroutines for port.
func (m *Meter) startSessionLocked(id uint64, port cell.Port) {
	ctx, cancel := context.WithCancel(context.Background())
	m.current = &session{id: id, cancel: cancel}

	chunks := make(chan chunk, m.bufSize)

	m.wg.Add(2)
	go m.readLoop(ctx, id, port, chunks)
	go m.processLoop(chunks)
}

// readLoop forwards chunks from the port until the session ends.
func (m *Meter) readLoop(ctx context.Context, id uint64, port cell.Port, out chan<- chunk) {
	defer m.wg.Done()
	defer close(out)

	err := port.ReadLoop(ctx, func(data []byte) {
		c := chunk{session: id, data: append([]byte(nil), data...)}
		select {
		case out <- c:
		case <-ctx.Done():
		default:
			log.Warn("Chunk channel full, dropping chunk")
		}
	})

	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("Serial read loop ended")
		m.detached(id, err)
	}
}

// processLoop handles chunks in arrival order.
func (m *Meter) processLoop(in <-chan chunk) {
	defer m.wg.Done()
	for c := range in {
		m.handleChunk(c.session, c.data)
	}
}

// handleChunk parses one chunk and updates the reading. Chunks from a stale
// session or arriving while not Connected are discarded.
func (m *Meter) handleChunk(id uint64, data []byte) bool {
	m.mu.Lock()
	if m.current == nil || m.current.id != id || m.link.State() != link.Connected {
		m.mu.Unlock()
		return false
	}

	v, ok := cell.ParseChunk(data)
	if !ok {
		m.mu.Unlock()
		return false
	}

	reset := m.history.PushFiltered(v, m.model.Threshold())
	if reset {
		log.WithField("sample", v).Debug("Outlier, smoothing window reset")
	}

	u := m.readingLocked()
	u.Reset = reset
	m.emitAndUnlock(u)
	return true
}

// Tare makes the current average the zero level.
func (m *Meter) Tare() error {
	m.mu.Lock()

	avg, err := m.averageLocked()
	if err != nil {
		log.WithError(err).Warn("Tare ignored")
		u := m.readingLocked()
		u.Status = fmt.Sprintf("Tare ignored: %v", err)
		u.Err = err
		m.emitAndUnlock(u)
		return err
	}

	m.model.Tare(avg)
	log.WithField("tare", avg).Info("Tared")

	u := m.readingLocked()
	u.Status = "Tared"
	m.emitAndUnlock(u)
	return nil
}

// Calibrate scales readings so that the current average reads as ref.
func (m *Meter) Calibrate(ref float64) error {
	m.mu.Lock()

	avg, err := m.averageLocked()
	if err == nil {
		err = m.model.Calibrate(avg, ref)
	}
	if err != nil {
		log.WithError(err).Warn("Calibration rejected")
		u := m.readingLocked()
		u.Status = fmt.Sprintf("Calibration rejected: %v", err)
		u.Err = err
		m.emitAndUnlock(u)
		return err
	}

	log.WithFields(logrus.Fields{"reference": ref, "scale": m.model.Scale()}).Info("Calibrated")

	u := m.readingLocked()
	u.Status = fmt.Sprintf("Calibrated to %s", calibration.Format(calibration.Round(ref)))
	m.emitAndUnlock(u)
	return nil
}

// Disconnect closes the port and stops sample processing. Valid in any state.
func (m *Meter) Disconnect() error {
	m.mu.Lock()
	err := m.disconnectLocked()
	u := m.baseUpdateLocked()
	u.Status = "Disconnected"
	if err != nil {
		u.Status = err.Error()
		u.Err = err
	}
	m.emitAndUnlock(u)
	return err
}

// DeviceDetached handles the device being unplugged.
func (m *Meter) DeviceDetached() {
	m.mu.Lock()
	if m.link.State() == link.Disconnected {
		m.mu.Unlock()
		return
	}
	m.detachLocked(nil)
}

// detached handles a read failure of session id.
func (m *Meter) detached(id uint64, cause error) {
	m.mu.Lock()
	if m.current == nil || m.current.id != id {
		m.mu.Unlock()
		return
	}
	m.detachLocked(cause)
}

func (m *Meter) detachLocked(cause error) {
	if err := m.disconnectLocked(); err != nil {
		log.WithError(err).Debug("Error closing detached port")
	}
	u := m.baseUpdateLocked()
	u.Status = "Device detached"
	u.Err = cause
	m.emitAndUnlock(u)
}

// Close disconnects and waits for all goroutines to finish.
func (m *Meter) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.quit)

	err := m.disconnectLocked()
	u := m.baseUpdateLocked()
	u.Status = "Closed"
	m.emitAndUnlock(u)

	m.wg.Wait()
	return err
}

// disconnectLocked ends the session, closes the port and clears the history.
func (m *Meter) disconnectLocked() error {
	if m.current != nil {
		m.current.cancel()
		m.current = nil
	}
	err := m.link.Disconnect()
	m.history.Clear()
	return err
}

func (m *Meter) averageLocked() (float64, error) {
	if m.link.State() != link.Connected {
		return 0, ErrNotConnected
	}
	avg, err := m.history.Average()
	if err != nil {
		return 0, ErrNoSamples
	}
	return avg, nil
}

// baseUpdateLocked builds an update without a reading.
func (m *Meter) baseUpdateLocked() Update {
	state := m.link.State()
	return Update{
		Time:            time.Now(),
		State:           state,
		Device:          m.link.Device().Name,
		Text:            calibration.Placeholder,
		Samples:         m.history.Len(),
		Tare:            m.model.TareLevel(),
		Scale:           m.model.Scale(),
		Button:          link.ButtonLabel(state),
		ControlsEnabled: link.ControlsEnabled(state),
	}
}

// readingLocked builds an update with the current reading, if any.
func (m *Meter) readingLocked() Update {
	u := m.baseUpdateLocked()
	if u.State != link.Connected {
		return u
	}

	avg, err := m.history.Average()
	if err != nil {
		return u
	}

	u.Average = avg
	u.Value = m.model.Apply(avg)
	u.HasValue = true
	u.Text = calibration.Format(u.Value)
	return u
}

// emitAndUnlock records u, releases mu and delivers u to all callbacks.
func (m *Meter) emitAndUnlock(u Update) {
	m.last = u
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.cbMu.RLock()
	callbacks := make([]func(Update), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(u)
		}
	}
}
