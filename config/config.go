// Package config holds the acquisition settings read from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/timeswipe/driver"
	"github.com/mklimuk/timeswipe/eeprom"
	"github.com/mklimuk/timeswipe/pidfile"
	"github.com/mklimuk/timeswipe/record"
)

var ErrInvalid = errors.New("invalid configuration")

type SPI struct {
	Port string `yaml:"port"`
	// Speed in Hz.
	Speed      int64  `yaml:"speed"`
	EnablePin  string `yaml:"enable_pin"`
	DataReady  string `yaml:"data_ready_pin"`
	BoardPort  string `yaml:"board_port"`
	BoardSpeed int64  `yaml:"board_speed"`
}

type EEPROM struct {
	// Bus is a periph I2C bus name; empty skips verification.
	Bus     string `yaml:"bus"`
	Address uint8  `yaml:"address"`
}

type WAV struct {
	Path     string  `yaml:"path"`
	BitDepth int     `yaml:"bit_depth"`
	Scale    float32 `yaml:"scale"`
}

type MQTT struct {
	Server   string        `yaml:"server"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Sinks struct {
	Console bool  `yaml:"console"`
	WAV     *WAV  `yaml:"wav,omitempty"`
	MQTT    *MQTT `yaml:"mqtt,omitempty"`
}

type Config struct {
	Device        string                      `yaml:"device"`
	LockDir       string                      `yaml:"lock_dir"`
	SampleRate    int                         `yaml:"sample_rate"`
	BurstSize     int                         `yaml:"burst_size"`
	Mode          string                      `yaml:"mode"`
	Offsets       [record.SensorCount]int     `yaml:"offsets"`
	Gains         [record.SensorCount]float32 `yaml:"gains"`
	Transmissions [record.SensorCount]float32 `yaml:"transmissions"`

	PollInterval     time.Duration `yaml:"poll_interval"`
	ControlInterval  time.Duration `yaml:"control_interval"`
	SettingsInterval time.Duration `yaml:"settings_interval"`
	SettingsTimeout  time.Duration `yaml:"settings_timeout"`
	FlushOnStop      bool          `yaml:"flush_on_stop"`

	SPI     SPI    `yaml:"spi"`
	EEPROM  EEPROM `yaml:"eeprom"`
	Sinks   Sinks  `yaml:"sinks"`
	Metrics string `yaml:"metrics_listen"`
}

func Default() Config {
	return Config{
		Device:           driver.DefaultDevice,
		LockDir:          pidfile.DefaultDir,
		SampleRate:       driver.BaseSampleRate,
		BurstSize:        driver.BaseSampleRate / 10,
		Mode:             record.ModePrimary.String(),
		Gains:            [record.SensorCount]float32{1, 1, 1, 1},
		Transmissions:    [record.SensorCount]float32{1, 1, 1, 1},
		PollInterval:     driver.DefaultPollInterval,
		ControlInterval:  driver.DefaultControlInterval,
		SettingsInterval: driver.DefaultSettingsInterval,
		FlushOnStop:      true,
		SPI: SPI{
			Port:       "/dev/spidev0.0",
			Speed:      20_000_000,
			EnablePin:  "GPIO12",
			BoardPort:  "/dev/spidev0.1",
			BoardSpeed: 1_000_000,
		},
		EEPROM: EEPROM{Address: eeprom.DefaultI2CAddress},
		Sinks:  Sinks{Console: true},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (c Config) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, errors.New("device is empty"))
	}
	if c.SampleRate < 1 || c.SampleRate > driver.BaseSampleRate {
		errs = append(errs, fmt.Errorf("sample_rate %d outside 1..%d", c.SampleRate, driver.BaseSampleRate))
	}
	if c.BurstSize < 0 {
		errs = append(errs, fmt.Errorf("burst_size %d is negative", c.BurstSize))
	}
	if _, err := record.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	for i := range c.Gains {
		if c.Gains[i] == 0 {
			errs = append(errs, fmt.Errorf("gain %d is zero", i+1))
		}
		if c.Transmissions[i] == 0 {
			errs = append(errs, fmt.Errorf("transmission %d is zero", i+1))
		}
	}
	if c.PollInterval <= 0 || c.ControlInterval <= 0 || c.SettingsInterval <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	if c.SettingsTimeout < 0 {
		errs = append(errs, errors.New("settings_timeout is negative"))
	}
	if c.Sinks.WAV != nil && c.Sinks.WAV.Path == "" {
		errs = append(errs, errors.New("wav sink needs a path"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// DriverOpts translates the configuration into driver options.
func (c Config) DriverOpts() []driver.Opt {
	opts := []driver.Opt{
		driver.WithDevice(c.Device),
		driver.WithLocker(pidfile.New(c.Device, pidfile.WithDir(c.LockDir))),
		driver.WithPollInterval(c.PollInterval),
		driver.WithControlInterval(c.ControlInterval),
		driver.WithSettingsInterval(c.SettingsInterval),
		driver.WithFlushOnStop(c.FlushOnStop),
	}
	if c.SettingsTimeout > 0 {
		opts = append(opts, driver.WithSettingsTimeout(c.SettingsTimeout))
	}
	return opts
}

// Apply pushes rate, burst, mode and calibration into the driver.
func (c Config) Apply(ts *driver.TimeSwipe) error {
	mode, err := record.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	steps := []func() error{
		func() error { return ts.SetSampleRate(c.SampleRate) },
		func() error { return ts.SetBurstSize(c.BurstSize) },
		func() error { return ts.SetMode(mode) },
		func() error { return ts.SetSensorOffsets(c.Offsets) },
		func() error { return ts.SetSensorGains(c.Gains) },
		func() error { return ts.SetSensorTransmissions(c.Transmissions) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("could not apply configuration: %w", err)
		}
	}
	return nil
}

// Version is injected by the dev build tool.
var Version = "dev"
