package record

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/tsctx"
)

const frameSize = 2 * SensorCount

// readyPollInterval bounds how often the data-ready line is sampled.
const readyPollInterval = 50 * time.Microsecond

var _ Sampler = &SPISampler{}

// SPISampler reads frames streamed by the board MCU over SPI. Each frame is
// four big-endian 16-bit conversions.
type SPISampler struct {
	conn   timeswipe.Transport
	enable timeswipe.Pin
	ready  timeswipe.Pin
	mode   Mode
	tx     []byte
	rx     []byte
}

type SPISamplerOpt func(*SPISampler)

// WithDataReady makes ReadFrames wait for the line to go high before each transfer.
func WithDataReady(pin timeswipe.Pin) SPISamplerOpt {
	return func(s *SPISampler) {
		s.ready = pin
	}
}

// NewSPISampler creates a sampler; enable gates the acquisition on the board.
func NewSPISampler(conn timeswipe.Transport, enable timeswipe.Pin, opts ...SPISamplerOpt) *SPISampler {
	s := &SPISampler{conn: conn, enable: enable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SPISampler) Configure(ctx context.Context, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
	s.mode = mode
	return nil
}

func (s *SPISampler) Arm(ctx context.Context) error {
	err := s.enable.Set(true)
	if err != nil {
		return fmt.Errorf("could not raise enable line: %w", err)
	}
	return nil
}

func (s *SPISampler) Disarm(ctx context.Context) error {
	err := s.enable.Set(false)
	if err != nil {
		return fmt.Errorf("could not lower enable line: %w", err)
	}
	return nil
}

func (s *SPISampler) ReadFrames(ctx context.Context, dst []Frame) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if err := s.waitReady(ctx); err != nil {
		return 0, err
	}
	size := len(dst) * frameSize
	if cap(s.rx) < size {
		s.rx = make([]byte, size)
		s.tx = make([]byte, size)
	}
	rx := s.rx[:size]
	err := s.conn.Tx(s.tx[:size], rx)
	if err != nil {
		return 0, fmt.Errorf("spi transfer failed: %w", err)
	}
	if tsctx.IsVerbose(ctx) {
		slog.Debug("frames received", "device", tsctx.Device(ctx), "dump", hex.EncodeToString(rx[:min(size, 64)]))
	}
	for i := range dst {
		off := i * frameSize
		for ch := range dst[i] {
			dst[i][ch] = binary.BigEndian.Uint16(rx[off+2*ch:])
		}
	}
	return len(dst), nil
}

func (s *SPISampler) waitReady(ctx context.Context) error {
	if s.ready == nil {
		return nil
	}
	for !s.ready.Get() {
		timer := time.NewTimer(readyPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
