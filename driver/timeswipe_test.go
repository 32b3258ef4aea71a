package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/record"
	"github.com/mklimuk/timeswipe/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLocker struct {
	mx      sync.Mutex
	err     error
	locks   int
	unlocks int
}

func (l *fakeLocker) Lock() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.err != nil {
		return l.err
	}
	l.locks++
	return nil
}

func (l *fakeLocker) Unlock() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.unlocks++
	return nil
}

type verifierFunc func(ctx context.Context) error

func (f verifierFunc) Verify(ctx context.Context) error {
	return f(ctx)
}

// fakeBoard echoes requests and reports queued events once.
type fakeBoard struct {
	mx       sync.Mutex
	values   map[string]string
	events   []timeswipe.Event
	stall    chan struct{}
	requests int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{values: map[string]string{}}
}

func (b *fakeBoard) GetSettings(ctx context.Context, req string) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	b.requests++
	v, ok := b.values[req]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", req)
	}
	return v, nil
}

func (b *fakeBoard) SetSettings(ctx context.Context, req string) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	b.requests++
	b.values[req] = "ok:" + req
	return "set:" + req, nil
}

func (b *fakeBoard) ReadEvents(ctx context.Context) ([]timeswipe.Event, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	events := b.events
	b.events = nil
	return events, nil
}

func (b *fakeBoard) emit(events ...timeswipe.Event) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.events = append(b.events, events...)
}

func (b *fakeBoard) wait(ctx context.Context) error {
	if b.stall == nil {
		return nil
	}
	select {
	case <-b.stall:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pacedSampler delivers chunks of frames carrying a running counter.
func pacedSampler(interval time.Duration) *record.MockSampler {
	var n uint16
	return record.NewMockSampler(func(ctx context.Context, dst []record.Frame) (int, error) {
		if err := sleep(ctx, interval); err != nil {
			return 0, err
		}
		for i := range dst {
			n++
			dst[i] = record.Frame{n, n, n, n}
		}
		return len(dst), nil
	})
}

type fixture struct {
	ts       *TimeSwipe
	board    *fakeBoard
	locker   *fakeLocker
	registry *session.Registry
}

func newFixture(t *testing.T, opts ...Opt) *fixture {
	t.Helper()
	f := &fixture{
		board:    newFakeBoard(),
		locker:   &fakeLocker{},
		registry: session.NewRegistry(),
	}
	opts = append([]Opt{
		WithLocker(f.locker),
		WithRegistry(f.registry),
		WithControlInterval(time.Millisecond),
		WithSettingsInterval(time.Millisecond),
	}, opts...)
	reader := record.NewReader(pacedSampler(100*time.Microsecond), record.WithChunkSize(8))
	f.ts = New(reader, f.board, opts...)
	t.Cleanup(func() {
		_ = f.ts.Close()
	})
	return f
}

func TestSetSampleRate(t *testing.T) {
	tests := []struct {
		rate    int
		wantErr bool
	}{
		{rate: -1, wantErr: true},
		{rate: 0, wantErr: true},
		{rate: 1},
		{rate: 1000},
		{rate: 47999},
		{rate: BaseSampleRate},
		{rate: BaseSampleRate + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rate), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.ts.SetSampleRate(2000))
			err := f.ts.SetSampleRate(tt.rate)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSampleRate)
				assert.Equal(t, 2000, f.ts.SampleRate())
				assert.NotNil(t, f.ts.resampler)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rate, f.ts.SampleRate())
			assert.Equal(t, tt.rate == BaseSampleRate, f.ts.resampler == nil)
		})
	}
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.Start(nil))
	assert.ErrorIs(t, f.ts.Start(nil), ErrAlreadyStarted)
	require.NoError(t, f.ts.Stop())
	assert.ErrorIs(t, f.ts.Stop(), ErrNotStarted)
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ts.Stop(), ErrNotStarted)
	assert.NoError(t, f.ts.Close())
}

func TestOneSessionPerProcess(t *testing.T) {
	f := newFixture(t)
	other := New(record.NewReader(pacedSampler(time.Millisecond)), newFakeBoard(),
		WithDevice("other"), WithLocker(&fakeLocker{}), WithRegistry(f.registry))

	require.NoError(t, f.ts.Start(nil))
	err := other.Start(nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.ErrorIs(t, err, session.ErrBusy)
	assert.ErrorIs(t, other.Stop(), ErrNotStarted)
	require.NoError(t, f.ts.Stop())

	require.NoError(t, other.Start(nil))
	require.NoError(t, other.Stop())
}

func TestStartLockFailure(t *testing.T) {
	f := newFixture(t)
	f.locker.err = errors.New("held by 42")
	err := f.ts.Start(nil)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "held by 42")
	assert.False(t, f.ts.Active())
	assert.False(t, f.registry.Busy())
}

func TestEEPROMFailureIsNotFatal(t *testing.T) {
	var verified atomic.Bool
	f := newFixture(t, WithEEPROM(verifierFunc(func(ctx context.Context) error {
		verified.Store(true)
		return errors.New("bad signature")
	})))
	require.NoError(t, f.ts.Start(nil))
	assert.True(t, verified.Load())
	assert.True(t, f.ts.Active())
	require.NoError(t, f.ts.Stop())
}

func TestRestartLeavesNoState(t *testing.T) {
	f := newFixture(t)
	var delivered atomic.Int64
	for i := 0; i < 3; i++ {
		require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
			delivered.Add(int64(b.Len()))
		}))
		assert.True(t, f.registry.Busy())
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, f.ts.Stop())

		assert.True(t, f.ts.records.Empty())
		assert.True(t, f.ts.events.Empty())
		assert.True(t, f.ts.requests.Empty())
		assert.True(t, f.ts.responses.Empty())
		assert.Zero(t, f.ts.dropped.Load())
		assert.False(t, f.registry.Busy())
	}
	assert.Equal(t, 3, f.locker.locks)
	assert.Equal(t, 3, f.locker.unlocks)
	assert.Positive(t, delivered.Load())
}

func TestConfigurationRejectedWhileActive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.Start(nil))
	defer f.ts.Stop()

	assert.ErrorIs(t, f.ts.SetSampleRate(1000), ErrSessionActive)
	assert.ErrorIs(t, f.ts.SetBurstSize(10), ErrSessionActive)
	assert.ErrorIs(t, f.ts.SetMode(record.ModeNorm), ErrSessionActive)
	assert.ErrorIs(t, f.ts.SetSensorOffsets([record.SensorCount]int{}), ErrSessionActive)
	assert.ErrorIs(t, f.ts.SetSensorGains([record.SensorCount]float32{1, 1, 1, 1}), ErrSessionActive)
	assert.ErrorIs(t, f.ts.SetSensorTransmissions([record.SensorCount]float32{1, 1, 1, 1}), ErrSessionActive)
	assert.ErrorIs(t, f.ts.OnButton(func(bool, int) {}), ErrSessionActive)
	assert.ErrorIs(t, f.ts.OnError(func(uint64) {}), ErrSessionActive)
}

func TestCalibrationIsApplied(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.SetSensorOffsets([record.SensorCount]int{1, 0, 0, 0}))
	require.NoError(t, f.ts.SetSensorGains([record.SensorCount]float32{1, 2, 1, 1}))
	require.NoError(t, f.ts.SetSensorTransmissions([record.SensorCount]float32{1, 1, 4, 1}))
	assert.ErrorIs(t, f.ts.SetBurstSize(-1), ErrInvalidBurstSize)

	got := make(chan record.Batch, 1)
	require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
		select {
		case got <- b:
		default:
		}
	}))
	var b record.Batch
	select {
	case b = <-got:
	case <-time.After(time.Second):
		t.Fatal("no data delivered")
	}
	require.NoError(t, f.ts.Stop())

	require.False(t, b.Empty())
	raw := b.Channels[3][0]
	assert.Equal(t, raw-1, b.Channels[0][0])
	assert.Equal(t, raw/2, b.Channels[1][0])
	assert.Equal(t, raw/4, b.Channels[2][0])
}

func TestBurstDelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.SetBurstSize(100))
	var mx sync.Mutex
	var sizes []int
	require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
		mx.Lock()
		sizes = append(sizes, b.Len())
		mx.Unlock()
	}))
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(sizes) >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, f.ts.Stop())

	mx.Lock()
	defer mx.Unlock()
	// the last delivery may be a flushed remainder
	for _, n := range sizes[:len(sizes)-1] {
		assert.GreaterOrEqual(t, n, 100)
	}
}

func TestResampledDelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.SetSampleRate(BaseSampleRate/2))
	var total atomic.Int64
	require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
		total.Add(int64(b.Len()))
	}))
	require.Eventually(t, func() bool { return total.Load() >= 64 }, time.Second, time.Millisecond)
	require.NoError(t, f.ts.Stop())
}

func TestFlushOnStop(t *testing.T) {
	tests := []struct {
		name  string
		flush bool
	}{
		{name: "enabled", flush: true},
		{name: "disabled", flush: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithFlushOnStop(tt.flush))
			require.NoError(t, f.ts.SetBurstSize(1<<30))
			var calls, samples atomic.Int64
			require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
				calls.Add(1)
				samples.Add(int64(b.Len()))
			}))
			time.Sleep(10 * time.Millisecond)
			require.NoError(t, f.ts.Stop())
			if tt.flush {
				assert.Equal(t, int64(1), calls.Load())
				assert.Positive(t, samples.Load())
				return
			}
			assert.Zero(t, calls.Load())
		})
	}
}

func TestCallbackReadsStateWhileStopping(t *testing.T) {
	f := newFixture(t, WithFlushOnStop(true))
	require.NoError(t, f.ts.SetSampleRate(BaseSampleRate))
	require.NoError(t, f.ts.SetBurstSize(1<<30))

	type observed struct {
		rate, burst int
		active      bool
		stopErr     error
		startErr    error
		configErr   error
	}
	seen := make(chan observed, 1)
	require.NoError(t, f.ts.Start(func(b record.Batch, _ uint64) {
		_, _ = f.ts.Session()
		_ = f.ts.Calibration()
		seen <- observed{
			rate:      f.ts.SampleRate(),
			burst:     f.ts.BurstSize(),
			active:    f.ts.Active(),
			stopErr:   f.ts.Stop(),
			startErr:  f.ts.Start(nil),
			configErr: f.ts.SetBurstSize(10),
		}
	}))
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- f.ts.Stop()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	got := <-seen
	assert.Equal(t, BaseSampleRate, got.rate)
	assert.Equal(t, 1<<30, got.burst)
	assert.True(t, got.active)
	assert.ErrorIs(t, got.stopErr, ErrNotStarted)
	assert.ErrorIs(t, got.startErr, ErrAlreadyStarted)
	assert.ErrorIs(t, got.configErr, ErrSessionActive)

	assert.False(t, f.ts.Active())
	assert.False(t, f.registry.Busy())
	require.NoError(t, f.ts.Start(nil))
	require.NoError(t, f.ts.Stop())
}

func TestButtonEvents(t *testing.T) {
	f := newFixture(t)
	type press struct {
		pressed bool
		counter int
	}
	var mx sync.Mutex
	var presses []press
	require.NoError(t, f.ts.OnButton(func(pressed bool, counter int) {
		mx.Lock()
		presses = append(presses, press{pressed, counter})
		mx.Unlock()
	}))
	f.board.emit(
		timeswipe.Event{Button: true, ButtonCounter: 1},
		timeswipe.Event{Button: false, ButtonCounter: 7},
		timeswipe.Event{Button: true, ButtonCounter: 2},
	)
	require.NoError(t, f.ts.Start(nil))
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(presses) == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, f.ts.Stop())
	assert.Equal(t, []press{{true, 1}, {false, 2}}, presses)
}

func TestSettingsWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.ts.SetSettings(ctx, "gain")
	require.NoError(t, err)
	assert.Equal(t, "set:gain", resp)

	resp, err = f.ts.GetSettings(ctx, "gain")
	require.NoError(t, err)
	assert.Equal(t, "ok:gain", resp)

	_, err = f.ts.GetSettings(ctx, "missing")
	var serr *SettingsError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "get", serr.Direction)
	assert.Equal(t, "missing", serr.Request)
	assert.Contains(t, serr.Message, "unknown setting")
}

func TestSettingsDuringSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.Start(nil))
	ctx := context.Background()

	set, err := f.ts.SetSettings(ctx, "mode")
	require.NoError(t, err)
	get, err := f.ts.GetSettings(ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, "set:mode", set)
	assert.Equal(t, "ok:mode", get)

	require.NoError(t, f.ts.Stop())
	assert.Equal(t, 2, f.board.requests)
}

func TestSettingsConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ts.Start(nil))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := fmt.Sprintf("key%d", i)
			resp, err := f.ts.SetSettings(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, "set:"+req, resp)
		}(i)
	}
	wg.Wait()
	require.NoError(t, f.ts.Stop())
}

func TestSettingsStaleResponseDiscarded(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.ts.responses.Push(response{seq: 99, payload: "stale"}))
	resp, err := f.ts.SetSettings(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "set:x", resp)
	assert.True(t, f.ts.responses.Empty())
}

func TestSettingsTimeout(t *testing.T) {
	f := newFixture(t, WithSettingsTimeout(20*time.Millisecond))
	f.board.stall = make(chan struct{})
	require.NoError(t, f.ts.Start(nil))

	_, err := f.ts.GetSettings(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, f.ts.Stop())
	close(f.board.stall)

	// the abandoned response must not leak into the next call
	resp, err := f.ts.SetSettings(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, "set:y", resp)
}

func TestSettingsContextCancelled(t *testing.T) {
	f := newFixture(t)
	f.board.stall = make(chan struct{})
	defer close(f.board.stall)
	require.NoError(t, f.ts.Start(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.ts.SetSettings(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, f.ts.Stop())
}

func TestReadErrorsDoNotStopSession(t *testing.T) {
	var calls atomic.Int64
	sampler := record.NewMockSampler(func(ctx context.Context, dst []record.Frame) (int, error) {
		if err := sleep(ctx, 100*time.Microsecond); err != nil {
			return 0, err
		}
		if calls.Add(1)%2 == 1 {
			return 0, errors.New("crc mismatch")
		}
		dst[0] = record.Frame{1, 2, 3, 4}
		return 1, nil
	})
	ts := New(record.NewReader(sampler), newFakeBoard(),
		WithLocker(&fakeLocker{}), WithRegistry(session.NewRegistry()))
	var delivered atomic.Int64
	require.NoError(t, ts.Start(func(b record.Batch, _ uint64) {
		delivered.Add(int64(b.Len()))
	}))
	require.Eventually(t, func() bool { return delivered.Load() >= 5 }, time.Second, time.Millisecond)
	require.NoError(t, ts.Stop())
}
