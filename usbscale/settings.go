package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// showSettingsDialog displays a settings dialog with a tab per configuration section.
// Only the reference load applies immediately; other changes apply on the next start.
func showSettingsDialog(g *gui) {
	tabs := container.NewAppTabs(
		createSerialTab(g),
		createCalibrationTab(g),
		createDisplayTab(g),
		createTelemetryTab(g),
		createMockTab(g),
	)

	content := container.NewBorder(nil, widget.NewLabel("Changes other than the reference load apply after restart."), nil, nil, tabs)

	d := dialog.NewCustom("Settings", "Close", content, g.window)
	d.Resize(fyne.NewSize(560, 420))
	d.Show()
}

func (g *gui) saveConfig() {
	if err := g.cfg.Save(g.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), g.window)
	}
}

func createSerialTab(g *gui) *container.TabItem {
	vendorEntry := widget.NewEntry()
	vendorEntry.SetText(strconv.Itoa(g.cfg.Serial.VendorID))

	bufferEntry := widget.NewEntry()
	bufferEntry.SetText(strconv.Itoa(g.cfg.Serial.BufferSize))

	pollEntry := widget.NewEntry()
	pollEntry.SetText(g.cfg.Serial.PollInterval.String())

	historyEntry := widget.NewEntry()
	historyEntry.SetText(strconv.Itoa(g.cfg.Filter.HistorySize))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "USB Vendor ID", Widget: vendorEntry},
			{Text: "Chunk Buffer", Widget: bufferEntry},
			{Text: "Hotplug Poll Interval", Widget: pollEntry},
			{Text: "Smoothing Window (samples)", Widget: historyEntry},
		},
		OnSubmit: func() {
			if vid, err := strconv.Atoi(vendorEntry.Text); err == nil && vid > 0 {
				g.cfg.Serial.VendorID = vid
			}
			if n, err := strconv.Atoi(bufferEntry.Text); err == nil && n > 0 {
				g.cfg.Serial.BufferSize = n
			}
			if d, err := time.ParseDuration(pollEntry.Text); err == nil && d > 0 {
				g.cfg.Serial.PollInterval = d
			}
			if n, err := strconv.Atoi(historyEntry.Text); err == nil && n > 0 {
				g.cfg.Filter.HistorySize = n
			}
			g.saveConfig()
		},
	}

	return container.NewTabItem("Serial", form)
}

func createCalibrationTab(g *gui) *container.TabItem {
	referenceEntry := widget.NewEntry()
	referenceEntry.SetText(strconv.FormatFloat(g.cfg.Calibration.Reference, 'f', -1, 64))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Reference Load", Widget: referenceEntry},
		},
		OnSubmit: func() {
			ref, err := strconv.ParseFloat(referenceEntry.Text, 64)
			if err != nil || ref == 0 {
				dialog.ShowError(fmt.Errorf("invalid reference load %q", referenceEntry.Text), g.window)
				return
			}
			g.cfg.Calibration.Reference = ref
			g.reference.SetText(referenceEntry.Text)
			g.saveConfig()
		},
	}

	return container.NewTabItem("Calibration", form)
}

func createDisplayTab(g *gui) *container.TabItem {
	windowEntry := widget.NewEntry()
	windowEntry.SetText(g.cfg.Display.TrendWindow.String())

	pointsEntry := widget.NewEntry()
	pointsEntry.SetText(strconv.Itoa(g.cfg.Display.MaxPoints))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Trend Window", Widget: windowEntry},
			{Text: "Max Points", Widget: pointsEntry},
		},
		OnSubmit: func() {
			if d, err := time.ParseDuration(windowEntry.Text); err == nil && d > 0 {
				g.cfg.Display.TrendWindow = d
			}
			if n, err := strconv.Atoi(pointsEntry.Text); err == nil && n > 0 {
				g.cfg.Display.MaxPoints = n
			}
			g.saveConfig()
		},
	}

	return container.NewTabItem("Display", form)
}

func createTelemetryTab(g *gui) *container.TabItem {
	enabledCheck := widget.NewCheck("", nil)
	enabledCheck.SetChecked(g.cfg.Telemetry.Enabled)

	brokerEntry := widget.NewEntry()
	brokerEntry.SetText(g.cfg.Telemetry.Broker)

	topicEntry := widget.NewEntry()
	topicEntry.SetText(g.cfg.Telemetry.Topic)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Publish to MQTT", Widget: enabledCheck},
			{Text: "Broker (host:port)", Widget: brokerEntry},
			{Text: "Topic", Widget: topicEntry},
		},
		OnSubmit: func() {
			g.cfg.Telemetry.Enabled = enabledCheck.Checked
			if brokerEntry.Text != "" {
				g.cfg.Telemetry.Broker = brokerEntry.Text
			}
			if topicEntry.Text != "" {
				g.cfg.Telemetry.Topic = topicEntry.Text
			}
			g.saveConfig()
		},
	}

	return container.NewTabItem("Telemetry", form)
}

func createMockTab(g *gui) *container.TabItem {
	baseEntry := widget.NewEntry()
	baseEntry.SetText(strconv.FormatInt(g.cfg.Mock.Base, 10))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(strconv.FormatInt(g.cfg.Mock.Noise, 10))

	loadEntry := widget.NewEntry()
	loadEntry.SetText(strconv.FormatInt(g.cfg.Mock.Load, 10))

	periodEntry := widget.NewEntry()
	periodEntry.SetText(g.cfg.Mock.LoadPeriod.String())

	rateEntry := widget.NewEntry()
	rateEntry.SetText(g.cfg.Mock.SampleRate.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Base (counts)", Widget: baseEntry},
			{Text: "Noise (counts)", Widget: noiseEntry},
			{Text: "Load (counts)", Widget: loadEntry},
			{Text: "Load Period", Widget: periodEntry},
			{Text: "Sample Rate", Widget: rateEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseInt(baseEntry.Text, 10, 64); err == nil {
				g.cfg.Mock.Base = v
			}
			if v, err := strconv.ParseInt(noiseEntry.Text, 10, 64); err == nil {
				g.cfg.Mock.Noise = v
			}
			if v, err := strconv.ParseInt(loadEntry.Text, 10, 64); err == nil {
				g.cfg.Mock.Load = v
			}
			if d, err := time.ParseDuration(periodEntry.Text); err == nil {
				g.cfg.Mock.LoadPeriod = d
			}
			if d, err := time.ParseDuration(rateEntry.Text); err == nil && d > 0 {
				g.cfg.Mock.SampleRate = d
			}
			g.saveConfig()
		},
	}

	return container.NewTabItem("Mock", form)
}
