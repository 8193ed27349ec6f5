package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Filter      FilterConfig      `yaml:"filter"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Mock        MockConfig        `yaml:"mock"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Display     DisplayConfig     `yaml:"display"`
	Log         LogConfig         `yaml:"log"`
}

// SerialConfig contains serial device selection.
// The line configuration (115200 8N1, no flow control) is fixed by the sensor firmware.
type SerialConfig struct {
	VendorID     int           `yaml:"vendor_id"`     // USB vendor id used to pick the sensor among enumerated ports
	BufferSize   int           `yaml:"buffer_size"`   // Chunk channel size between reader and processor
	PollInterval time.Duration `yaml:"poll_interval"` // Attach/detach polling interval
}

// FilterConfig contains smoothing parameters.
type FilterConfig struct {
	HistorySize int `yaml:"history_size"` // Moving average window in samples (1600 = ~20s at 80Hz)
}

// CalibrationConfig contains the initial calibration. Values changed at
// runtime by tare/calibrate are not written back.
type CalibrationConfig struct {
	Tare      float64 `yaml:"tare"`
	Scale     float64 `yaml:"scale"`
	Reference float64 `yaml:"reference"` // Known load used by calibrate
}

// MockConfig contains simulated load cell configuration.
type MockConfig struct {
	Base       int64         `yaml:"base"`        // Unloaded raw counts
	Noise      int64         `yaml:"noise"`       // Peak noise in raw counts
	Load       int64         `yaml:"load"`        // Raw counts added while the load is on
	LoadPeriod time.Duration `yaml:"load_period"` // Time between load toggles (0 = never)
	SampleRate time.Duration `yaml:"sample_rate"` // Interval between frames
	SplitEvery int           `yaml:"split_every"` // Split every Nth frame across two chunks (0 = never)
	Deny       bool          `yaml:"deny"`        // Deny permission requests
}

// TelemetryConfig contains MQTT publisher configuration.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"` // host:port
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DisplayConfig contains GUI trend settings.
type DisplayConfig struct {
	TrendWindow time.Duration `yaml:"trend_window"` // Time span of the trend graph
	MaxPoints   int           `yaml:"max_points"`   // Points drawn after downsampling
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			VendorID:     5824,
			BufferSize:   100,
			PollInterval: time.Second,
		},
		Filter: FilterConfig{
			HistorySize: 1600,
		},
		Calibration: CalibrationConfig{
			Tare:      0,
			Scale:     4.83e-4,
			Reference: 20.0,
		},
		Mock: MockConfig{
			Base:       138300,
			Noise:      10,
			Load:       41408, // ~20 units at the default scale
			LoadPeriod: 10 * time.Second,
			SampleRate: 12500 * time.Microsecond, // 80 Hz
			SplitEvery: 0,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Broker:  "localhost:1883",
			Topic:   "usbscale",
			Timeout: 5 * time.Second,
		},
		Display: DisplayConfig{
			TrendWindow: 60 * time.Second,
			MaxPoints:   1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.VendorID == 0 {
		c.Serial.VendorID = def.Serial.VendorID
	}
	if c.Serial.BufferSize <= 0 {
		c.Serial.BufferSize = def.Serial.BufferSize
	}
	if c.Serial.PollInterval <= 0 {
		c.Serial.PollInterval = def.Serial.PollInterval
	}

	if c.Filter.HistorySize <= 0 {
		c.Filter.HistorySize = def.Filter.HistorySize
	}

	// A zero scale can never produce a reading.
	if c.Calibration.Scale == 0 {
		c.Calibration.Scale = def.Calibration.Scale
	}
	if c.Calibration.Reference == 0 {
		c.Calibration.Reference = def.Calibration.Reference
	}

	if c.Mock.SampleRate <= 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}

	if c.Telemetry.Broker == "" {
		c.Telemetry.Broker = def.Telemetry.Broker
	}
	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if c.Telemetry.Timeout == 0 {
		c.Telemetry.Timeout = def.Telemetry.Timeout
	}

	if c.Display.TrendWindow <= 0 {
		c.Display.TrendWindow = def.Display.TrendWindow
	}
	if c.Display.MaxPoints <= 0 {
		c.Display.MaxPoints = def.Display.MaxPoints
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
