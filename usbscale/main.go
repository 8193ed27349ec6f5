package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/itohio/usbscale/pkg/cell"
	"github.com/itohio/usbscale/pkg/config"
	"github.com/itohio/usbscale/pkg/meter"
	"github.com/itohio/usbscale/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.WithField("component", "main")

type Args struct {
	Config    string  `arg:"-c,--config" default:"config.yaml" help:"configuration file path"`
	Mock      bool    `arg:"--mock" help:"use a simulated load cell instead of a serial device"`
	Headless  bool    `arg:"--headless" help:"run without a window, reading commands from stdin"`
	VendorID  int     `arg:"--vendor-id" help:"USB vendor id of the sensor (overrides config)"`
	Reference float64 `arg:"--reference" help:"known load used by calibrate (overrides config)"`
	MQTT      string  `arg:"--mqtt" help:"publish readings to this MQTT broker, host:port (overrides config)"`
	LogLevel  string  `arg:"-l,--log-level" help:"logging level: debug, info, warn, error (overrides config)"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	arg.MustParse(&args)
	return args
}

func main() {
	if err := runMain(); err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	args := procArgs()

	cfg, err := config.Load(args.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyArgs(cfg, args)
	setLogLevel(cfg.Log.Level)

	log.Infof("Running version: %s", version)

	transport := newTransport(cfg, args.Mock)

	m, err := meter.New(cfg, transport)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		pub, err = telemetry.Dial(ctx, &cfg.Telemetry)
		if err != nil {
			log.WithError(err).Warn("Telemetry disabled")
		} else {
			m.OnUpdate(pub.Publish)
		}
	}

	var notify func(string)
	var run func() error
	if args.Headless {
		c := newConsole(m, cfg, os.Stdout)
		notify = c.notice
		run = func() error { return c.run(ctx, os.Stdin) }
	} else {
		g := newGUI(m, cfg, args.Config)
		notify = g.notice
		run = func() error { return g.run(ctx) }
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cell.Watch(watchCtx, transport, cfg.Serial.VendorID, cfg.Serial.PollInterval, func(ev cell.Event) {
			handleDeviceEvent(m, ev, notify)
		})
	}()

	runErr := run()

	stopWatch()
	wg.Wait()

	if err := m.Close(); err != nil {
		log.WithError(err).Warn("Error closing meter")
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.WithError(err).Warn("Error closing telemetry")
		}
	}

	return runErr
}

func applyArgs(cfg *config.Config, args Args) {
	if args.VendorID != 0 {
		cfg.Serial.VendorID = args.VendorID
	}
	if args.Reference != 0 {
		cfg.Calibration.Reference = args.Reference
	}
	if args.MQTT != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Broker = args.MQTT
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
}

func setLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.SetLevel(logrus.InfoLevel)
		log.WithField("level", level).Warn("Unknown log level, defaulting to info")
		return
	}
	logrus.SetLevel(lvl)
}

func newTransport(cfg *config.Config, mock bool) cell.Transport {
	if mock {
		log.Info("Using simulated load cell")
		return cell.NewMock(&cfg.Mock, cfg.Serial.VendorID)
	}
	return cell.NewSerial()
}

// handleDeviceEvent disconnects when the connected sensor is unplugged and
// tells the operator when a sensor appears. It never reconnects by itself.
func handleDeviceEvent(m *meter.Meter, ev cell.Event, notify func(string)) {
	switch ev.Kind {
	case cell.Detached:
		if m.Snapshot().Device == ev.Device.Name {
			m.DeviceDetached()
		}
	case cell.Attached:
		notify(fmt.Sprintf("Sensor attached on %s", ev.Device.Name))
	}
}
