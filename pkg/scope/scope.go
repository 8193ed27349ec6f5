package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/sample"
)

// TrendWidget is a custom Fyne widget that plots calibrated readings over time.
type TrendWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu    sync.RWMutex
	trace trace

	// Display buffer (reused for downsampling)
	display []sample.Point
	resets  []time.Time

	// Auto-scaling
	yMin, yMax float64
	xMin, xMax time.Time

	maxDisplayPoints int
}

// New creates a trend widget configured by cfg.
func New(cfg *config.DisplayConfig) *TrendWidget {
	window := cfg.TrendWindow
	if window <= 0 {
		window = time.Minute
	}
	maxPoints := cfg.MaxPoints
	if maxPoints <= 0 {
		maxPoints = 1000
	}

	s := &TrendWidget{
		trace:            trace{window: window},
		display:          make([]sample.Point, 0, maxPoints),
		maxDisplayPoints: maxPoints,
	}
	s.ExtendBaseWidget(s)
	s.updateAutoScale()
	return s
}

// Add appends a reading. reset marks a smoothing window reset at p.
// Call from the UI goroutine (fyne.Do).
func (s *TrendWidget) Add(p sample.Point, reset bool) {
	s.mu.Lock()
	s.trace.add(p, reset)
	s.prepare()
	s.mu.Unlock()

	s.Refresh()
}

// Clear removes all readings, e.g. on disconnect.
func (s *TrendWidget) Clear() {
	s.mu.Lock()
	s.trace.clear()
	s.prepare()
	s.mu.Unlock()

	s.Refresh()
}

// Len returns the number of readings held.
func (s *TrendWidget) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trace.points)
}

func (s *TrendWidget) prepare() {
	s.display = sample.Downsample(s.display, s.trace.points, s.maxDisplayPoints)
	s.resets = append(s.resets[:0], s.trace.resets...)
	s.updateAutoScale()
}

func (s *TrendWidget) updateAutoScale() {
	s.yMin, s.yMax = valueRange(s.display)
	s.xMin, s.xMax = timeRange(s.display, s.trace.window)
}

// CreateRenderer creates the widget renderer.
func (s *TrendWidget) CreateRenderer() fyne.WidgetRenderer {
	background := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &trendRenderer{
		trend:      s,
		background: background,
		objects:    []fyne.CanvasObject{background},
	}
}
