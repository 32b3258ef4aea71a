package record

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultChunkSize is the number of frames requested per Read.
const DefaultChunkSize = 32

// Frame is one raw conversion of all sensors.
type Frame [SensorCount]uint16

// Sampler is the hardware capability behind a Reader.
type Sampler interface {
	Configure(ctx context.Context, mode Mode) error
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	// ReadFrames blocks until at least one frame is available and fills dst.
	ReadFrames(ctx context.Context, dst []Frame) (int, error)
}

type ReaderOpts struct {
	ChunkSize int
	Logger    *slog.Logger
}

type ReaderOpt func(*ReaderOpts)

func WithChunkSize(n int) ReaderOpt {
	return func(o *ReaderOpts) {
		o.ChunkSize = n
	}
}

func WithLogger(l *slog.Logger) ReaderOpt {
	return func(o *ReaderOpts) {
		o.Logger = l
	}
}

// Reader turns raw sampler frames into calibrated batches.
//
// Calibration setters must not be called while the reader is armed; the
// driver enforces this by rejecting them during an active session.
type Reader struct {
	sampler Sampler
	cal     Calibration
	frames  []Frame
	armed   bool
	log     *slog.Logger
}

func NewReader(sampler Sampler, opts ...ReaderOpt) *Reader {
	config := ReaderOpts{
		ChunkSize: DefaultChunkSize,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.ChunkSize < 1 {
		config.ChunkSize = DefaultChunkSize
	}
	return &Reader{
		sampler: sampler,
		cal:     DefaultCalibration(),
		frames:  make([]Frame, config.ChunkSize),
		log:     config.Logger.With("component", "record"),
	}
}

func (r *Reader) Calibration() Calibration {
	return r.cal
}

func (r *Reader) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
	r.cal.Mode = mode
	return nil
}

func (r *Reader) SetOffsets(offsets [SensorCount]int) {
	r.cal.Offset = offsets
}

func (r *Reader) SetGains(gains [SensorCount]float32) error {
	return r.cal.SetGains(gains)
}

func (r *Reader) SetTransmissions(trans [SensorCount]float32) error {
	return r.cal.SetTransmissions(trans)
}

// Setup pushes the current mode to the hardware.
func (r *Reader) Setup(ctx context.Context) error {
	err := r.sampler.Configure(ctx, r.cal.Mode)
	if err != nil {
		return fmt.Errorf("could not configure sampler: %w", err)
	}
	r.log.Debug("sampler configured", "mode", r.cal.Mode)
	return nil
}

func (r *Reader) Start(ctx context.Context) error {
	if r.armed {
		return nil
	}
	err := r.sampler.Arm(ctx)
	if err != nil {
		return fmt.Errorf("could not arm sampler: %w", err)
	}
	r.armed = true
	return nil
}

func (r *Reader) Stop(ctx context.Context) error {
	if !r.armed {
		return nil
	}
	r.armed = false
	err := r.sampler.Disarm(ctx)
	if err != nil {
		return fmt.Errorf("could not disarm sampler: %w", err)
	}
	return nil
}

// Read blocks until the sampler delivers a chunk and returns it calibrated.
// Only one goroutine may call Read.
func (r *Reader) Read(ctx context.Context) (Batch, error) {
	n, err := r.sampler.ReadFrames(ctx, r.frames)
	if err != nil {
		return Batch{}, fmt.Errorf("could not read frames: %w", err)
	}
	b := NewBatch(n)
	for _, f := range r.frames[:n] {
		for i := range b.Channels {
			b.Channels[i] = append(b.Channels[i], r.cal.Apply(i, f[i]))
		}
	}
	return b, nil
}
