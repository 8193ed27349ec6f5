package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/usbscale/pkg/calibration"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/link"
	"github.com/itohio/usbscale/pkg/meter"
	"github.com/itohio/usbscale/pkg/sample"
	"github.com/itohio/usbscale/pkg/scope"
)

// Throttle readings to ~60 FPS so the UI is not overwhelmed at 80 Hz.
const guiInterval = 16 * time.Millisecond

// gui holds the window state. Widgets are only touched on the Fyne main thread.
type gui struct {
	cfg        *config.Config
	configPath string
	meter      *meter.Meter

	app    fyne.App
	window fyne.Window

	reading      *canvas.Text
	status       *widget.Label
	connectBtn   *widget.Button
	tareBtn      *widget.Button
	calibrateBtn *widget.Button
	reference    *widget.Entry
	trend        *scope.TrendWidget

	state    link.State
	throttle throttle
	stopped  atomic.Bool
}

func newGUI(m *meter.Meter, cfg *config.Config, configPath string) *gui {
	g := &gui{
		cfg:        cfg,
		configPath: configPath,
		meter:      m,
		throttle:   throttle{interval: guiInterval},
	}

	g.app = app.NewWithID("com.itohio.usbscale")
	g.window = g.app.NewWindow("USB Scale")
	g.window.Resize(fyne.NewSize(900, 600))
	g.window.CenterOnScreen()

	g.reading = canvas.NewText(calibration.Placeholder, theme.Color(theme.ColorNameForeground))
	g.reading.TextSize = 64
	g.reading.TextStyle = fyne.TextStyle{Monospace: true, Bold: true}
	g.reading.Alignment = fyne.TextAlignCenter

	g.status = widget.NewLabel("Disconnected")
	g.status.Wrapping = fyne.TextWrapWord

	g.trend = scope.New(&cfg.Display)

	g.window.SetContent(container.NewBorder(
		g.createToolbar(),
		g.status,
		nil,
		nil,
		container.NewVSplit(container.NewCenter(g.reading), g.trend),
	))

	g.apply(m.Snapshot())

	m.OnUpdate(func(u meter.Update) {
		if g.stopped.Load() || !g.throttle.allow(u) {
			return
		}
		fyne.Do(func() { g.apply(u) })
	})

	return g
}

// createToolbar creates the Connect, Tare, Calibrate and Settings controls.
func (g *gui) createToolbar() fyne.CanvasObject {
	g.connectBtn = widget.NewButtonWithIcon(link.ButtonLabel(link.Disconnected), theme.LoginIcon(), g.handleConnect)

	g.tareBtn = widget.NewButtonWithIcon("Tare", theme.ContentClearIcon(), g.handleTare)
	g.tareBtn.Disable()

	g.reference = widget.NewEntry()
	g.reference.SetText(strconv.FormatFloat(g.cfg.Calibration.Reference, 'f', -1, 64))

	g.calibrateBtn = widget.NewButtonWithIcon("Calibrate", theme.ConfirmIcon(), g.handleCalibrate)
	g.calibrateBtn.Disable()

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(g)
	})

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(g.connectBtn, g.tareBtn),
		settingsBtn,
		container.NewBorder(nil, nil, widget.NewLabel("Reference load"), g.calibrateBtn, g.reference),
	)
}

func (g *gui) handleConnect() {
	if g.meter.State() == link.Disconnected {
		err := g.meter.Connect()
		if errors.Is(err, link.ErrNoDevice) {
			dialog.ShowError(fmt.Errorf("no load cell found, is it plugged in? (%w)", err), g.window)
		}
		return
	}
	_ = g.meter.Disconnect()
}

func (g *gui) handleTare() {
	_ = g.meter.Tare()
}

func (g *gui) handleCalibrate() {
	ref, err := strconv.ParseFloat(g.reference.Text, 64)
	if err != nil {
		dialog.ShowError(fmt.Errorf("invalid reference load %q", g.reference.Text), g.window)
		return
	}
	if err := g.meter.Calibrate(ref); err != nil && !errors.Is(err, calibration.ErrDegenerate) {
		dialog.ShowError(err, g.window)
	}
}

// apply shows u. Must run on the main thread.
func (g *gui) apply(u meter.Update) {
	g.reading.Text = u.Text
	g.reading.Refresh()

	g.connectBtn.SetText(u.Button)
	if u.ControlsEnabled {
		g.tareBtn.Enable()
		g.calibrateBtn.Enable()
	} else {
		g.tareBtn.Disable()
		g.calibrateBtn.Disable()
	}

	if u.Status != "" {
		g.status.SetText(u.Status)
	}

	if u.State == link.Disconnected && g.state != link.Disconnected {
		g.trend.Clear()
	}
	if u.HasValue {
		g.trend.Add(sample.Point{Timestamp: u.Time, Value: u.Value}, u.Reset)
	}
	g.state = u.State
}

// notice shows an operator message. Safe from any goroutine.
func (g *gui) notice(msg string) {
	if g.stopped.Load() {
		return
	}
	fyne.Do(func() { g.status.SetText(msg) })
}

// run shows the window until it is closed or ctx is done.
func (g *gui) run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			fyne.Do(g.app.Quit)
		case <-done:
		}
	}()

	g.window.ShowAndRun()
	g.stopped.Store(true)
	return nil
}
