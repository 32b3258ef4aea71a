package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/timeswipe/metrics"
	"github.com/mklimuk/timeswipe/session"
)

const (
	DefaultDevice           = "timeswipe"
	DefaultPollInterval     = time.Millisecond
	DefaultControlInterval  = 20 * time.Millisecond
	DefaultSettingsInterval = 100 * time.Millisecond
)

// Locker guards the device against other processes.
type Locker interface {
	Lock() error
	Unlock() error
}

// EEPROMVerifier checks the board identification memory.
type EEPROMVerifier interface {
	Verify(ctx context.Context) error
}

type Opts struct {
	Device           string
	Locker           Locker
	Registry         *session.Registry
	EEPROM           EEPROMVerifier
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	PollInterval     time.Duration
	ControlInterval  time.Duration
	SettingsInterval time.Duration
	// SettingsTimeout bounds the wait for a settings response; zero waits
	// until the caller's context is done.
	SettingsTimeout time.Duration
	FlushOnStop     bool
	// Verbose enables wire dumps in the session goroutines.
	Verbose bool
}

type Opt func(*Opts)

// WithDevice sets the device identity used for the lock file and the session registry.
func WithDevice(device string) Opt {
	return func(o *Opts) {
		o.Device = device
	}
}

func WithLocker(l Locker) Opt {
	return func(o *Opts) {
		o.Locker = l
	}
}

func WithRegistry(r *session.Registry) Opt {
	return func(o *Opts) {
		o.Registry = r
	}
}

func WithEEPROM(v EEPROMVerifier) Opt {
	return func(o *Opts) {
		o.EEPROM = v
	}
}

func WithMetrics(m *metrics.Metrics) Opt {
	return func(o *Opts) {
		o.Metrics = m
	}
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = l
	}
}

func WithPollInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.PollInterval = d
	}
}

func WithControlInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.ControlInterval = d
	}
}

func WithSettingsInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.SettingsInterval = d
	}
}

func WithSettingsTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.SettingsTimeout = d
	}
}

// WithFlushOnStop controls whether samples left in the burst buffer are
// delivered when the session stops. Enabled by default.
func WithFlushOnStop(flush bool) Opt {
	return func(o *Opts) {
		o.FlushOnStop = flush
	}
}

func WithVerbose(verbose bool) Opt {
	return func(o *Opts) {
		o.Verbose = verbose
	}
}
