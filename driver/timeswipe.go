// Package driver runs TimeSwipe acquisition sessions.
//
// A session owns three goroutines: the fetcher reads batches from the record
// source, the poller resamples and batches them into bursts for the data
// callback, and the control goroutine polls board events and serves settings
// requests. They communicate only through single-producer/single-consumer
// queues and an atomic drop counter.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/pidfile"
	"github.com/mklimuk/timeswipe/queue"
	"github.com/mklimuk/timeswipe/record"
	"github.com/mklimuk/timeswipe/resample"
	"github.com/mklimuk/timeswipe/session"
	"github.com/mklimuk/timeswipe/tsctx"
)

// BaseSampleRate is the native rate of the board ADC.
const BaseSampleRate = 48000

const (
	RecordQueueSize   = BaseSampleRate / record.DefaultChunkSize * 2
	RequestQueueSize  = 1024
	ResponseQueueSize = 1024
	EventQueueSize    = 128
	// PopSize is the maximum number of batches the poller takes per cycle.
	PopSize = 4096
)

// ReadCallback receives a burst and the number of batches dropped since the
// previous delivery. The callback owns the batch.
type ReadCallback func(batch record.Batch, dropped uint64)

// ButtonCallback receives the button state derived from the press counter
// parity and the raw counter.
type ButtonCallback func(pressed bool, counter int)

// ErrorCallback receives a non-zero number of dropped batches.
type ErrorCallback func(dropped uint64)

type TimeSwipe struct {
	opts   Opts
	reader *record.Reader
	board  timeswipe.Board
	log    *slog.Logger

	// mx guards the session lifecycle and configuration below
	mx        sync.Mutex
	handle    *session.Handle
	cancel    context.CancelFunc
	stopping  bool
	rate      int
	resampler *resample.Resampler
	burstSize int
	onButton  ButtonCallback
	onError   ErrorCallback

	wg      sync.WaitGroup
	work    atomic.Bool
	running atomic.Bool
	dropped atomic.Uint64

	records   *queue.SPSC[record.Batch]
	events    *queue.SPSC[timeswipe.Event]
	requests  *queue.SPSC[request]
	responses *queue.SPSC[response]

	// settingsMu makes the settings caller the single producer of requests
	// and the single consumer of responses
	settingsMu sync.Mutex
	seq        uint64
}

// New creates a driver reading from reader and talking to board.
func New(reader *record.Reader, board timeswipe.Board, opts ...Opt) *TimeSwipe {
	config := Opts{
		Device:           DefaultDevice,
		Registry:         session.Default,
		Logger:           slog.Default(),
		PollInterval:     DefaultPollInterval,
		ControlInterval:  DefaultControlInterval,
		SettingsInterval: DefaultSettingsInterval,
		FlushOnStop:      true,
	}
	for _, opt := range opts {
		opt(&config)
	}
	log := config.Logger.With("component", "driver", "device", config.Device)
	if config.Locker == nil {
		config.Locker = pidfile.New(config.Device, pidfile.WithLogger(config.Logger))
	}
	return &TimeSwipe{
		opts:      config,
		reader:    reader,
		board:     board,
		log:       log,
		rate:      BaseSampleRate,
		records:   queue.New[record.Batch](RecordQueueSize),
		events:    queue.New[timeswipe.Event](EventQueueSize),
		requests:  queue.New[request](RequestQueueSize),
		responses: queue.New[response](ResponseQueueSize),
	}
}

// Active reports whether a session is running.
func (t *TimeSwipe) Active() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.handle != nil
}

// Session returns the handle of the running session.
func (t *TimeSwipe) Session() (*session.Handle, bool) {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.handle, t.handle != nil
}

func (t *TimeSwipe) SampleRate() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.rate
}

func (t *TimeSwipe) BurstSize() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.burstSize
}

func (t *TimeSwipe) Calibration() record.Calibration {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.reader.Calibration()
}

// SetSampleRate configures the rate of delivered samples. The base rate
// disables resampling.
func (t *TimeSwipe) SetSampleRate(rate int) error {
	if rate < 1 || rate > BaseSampleRate {
		return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidSampleRate, rate, BaseSampleRate)
	}
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.handle != nil {
		return ErrSessionActive
	}
	if rate == BaseSampleRate {
		t.resampler = nil
		t.rate = rate
		return nil
	}
	rs, err := resample.New(rate, BaseSampleRate)
	if err != nil {
		return fmt.Errorf("could not create resampler: %w", err)
	}
	t.resampler = rs
	t.rate = rate
	return nil
}

// SetBurstSize sets the minimum number of samples per channel handed to the
// data callback. Zero delivers every poll cycle.
func (t *TimeSwipe) SetBurstSize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBurstSize, n)
	}
	return t.configure(func() error {
		t.burstSize = n
		return nil
	})
}

func (t *TimeSwipe) SetMode(mode record.Mode) error {
	return t.configure(func() error {
		return t.reader.SetMode(mode)
	})
}

func (t *TimeSwipe) SetSensorOffsets(offsets [record.SensorCount]int) error {
	return t.configure(func() error {
		t.reader.SetOffsets(offsets)
		return nil
	})
}

func (t *TimeSwipe) SetSensorGains(gains [record.SensorCount]float32) error {
	return t.configure(func() error {
		return t.reader.SetGains(gains)
	})
}

func (t *TimeSwipe) SetSensorTransmissions(trans [record.SensorCount]float32) error {
	return t.configure(func() error {
		return t.reader.SetTransmissions(trans)
	})
}

func (t *TimeSwipe) OnButton(cb ButtonCallback) error {
	return t.configure(func() error {
		t.onButton = cb
		return nil
	})
}

func (t *TimeSwipe) OnError(cb ErrorCallback) error {
	return t.configure(func() error {
		t.onError = cb
		return nil
	})
}

func (t *TimeSwipe) configure(apply func() error) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.handle != nil {
		return ErrSessionActive
	}
	return apply()
}

// Start opens a session and delivers data to cb until Stop.
func (t *TimeSwipe) Start(cb ReadCallback) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.handle != nil {
		return ErrAlreadyStarted
	}
	h, err := t.opts.Registry.Acquire(t.opts.Device, t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAlreadyStarted, err)
	}
	err = t.opts.Locker.Lock()
	if err != nil {
		t.log.Error("could not acquire device lock", "error", err)
		t.releaseHandle(h)
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}

	base := tsctx.SetVerbose(tsctx.WithDevice(context.Background(), t.opts.Device), t.opts.Verbose)
	ctx, cancel := context.WithCancel(base)
	abort := func(err error) error {
		cancel()
		if stopErr := t.reader.Stop(context.Background()); stopErr != nil {
			t.log.Warn("could not disarm record source", "error", stopErr)
		}
		t.unlock()
		t.releaseHandle(h)
		return err
	}

	if t.opts.EEPROM != nil {
		if err := t.opts.EEPROM.Verify(ctx); err != nil {
			// the session proceeds with the calibration already configured
			t.log.Warn("eeprom verification failed", "error", err)
		}
	}
	if err := t.reader.Setup(ctx); err != nil {
		return abort(fmt.Errorf("could not set up record source: %w", err))
	}
	if err := t.reader.Start(ctx); err != nil {
		return abort(fmt.Errorf("could not start record source: %w", err))
	}

	if t.resampler != nil {
		t.resampler.Reset()
	}
	t.handle = h
	t.cancel = cancel
	t.dropped.Store(0)
	t.work.Store(true)

	t.settingsMu.Lock()
	t.running.Store(true)
	t.settingsMu.Unlock()

	t.wg.Add(3)
	go t.fetch(ctx, t.onButton)
	go t.poll(ctx, newBurst(t.burstSize), t.resampler, cb, t.onError)
	go t.control(ctx)

	t.opts.Metrics.SessionStarted()
	t.log.Info("session started", "session", h.ID, "rate", t.rate, "burst", t.burstSize)
	return nil
}

// Stop ends the session, waiting for all session goroutines to exit.
// Callbacks may call the accessors while Stop waits; the session keeps
// rejecting Start and configuration until teardown completes.
func (t *TimeSwipe) Stop() error {
	t.mx.Lock()
	if t.handle == nil || t.stopping {
		t.mx.Unlock()
		return ErrNotStarted
	}
	if active, ok := t.opts.Registry.Active(t.opts.Device); !ok || active != t.handle {
		t.mx.Unlock()
		return fmt.Errorf("%w: session %s is not registered", ErrNotStarted, t.handle)
	}
	t.stopping = true
	t.work.Store(false)
	cancel := t.cancel
	t.mx.Unlock()

	cancel()
	t.wg.Wait()
	t.running.Store(false)

	t.settingsMu.Lock()
	discarded := t.records.Drain() + t.events.Drain() + t.requests.Drain() + t.responses.Drain()
	t.dropped.Store(0)
	t.settingsMu.Unlock()
	if discarded > 0 {
		t.log.Debug("queues drained", "discarded", discarded)
	}

	t.mx.Lock()
	defer t.mx.Unlock()
	var errs []error
	if err := t.reader.Stop(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := t.opts.Locker.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("could not release device lock: %w", err))
	}
	id := t.handle.ID
	t.releaseHandle(t.handle)
	t.handle = nil
	t.cancel = nil
	t.stopping = false
	t.opts.Metrics.SessionStopped()
	t.log.Info("session stopped", "session", id)

	if len(errs) > 0 {
		return fmt.Errorf("session stopped with errors: %w", errors.Join(errs...))
	}
	return nil
}

// Close stops the running session, if any.
func (t *TimeSwipe) Close() error {
	err := t.Stop()
	if errors.Is(err, ErrNotStarted) {
		return nil
	}
	return err
}

func (t *TimeSwipe) unlock() {
	if err := t.opts.Locker.Unlock(); err != nil {
		t.log.Warn("could not release device lock", "error", err)
	}
}

func (t *TimeSwipe) releaseHandle(h *session.Handle) {
	if err := t.opts.Registry.Release(h); err != nil {
		t.log.Warn("could not release session", "session", h.ID, "error", err)
	}
}
