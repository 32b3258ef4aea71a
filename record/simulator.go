package record

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

var _ Sampler = &Simulator{}

// Simulator generates sine waves paced by the wall clock, one frequency per
// sensor. It stands in for the board when no hardware is attached.
type Simulator struct {
	mx        sync.Mutex
	rate      int
	freqs     [SensorCount]float64
	amplitude float64
	started   time.Time
	produced  int64
	armed     bool
	mode      Mode
}

// NewSimulator returns a simulator producing rate frames per second.
func NewSimulator(rate int) *Simulator {
	return &Simulator{
		rate:      rate,
		freqs:     [SensorCount]float64{50, 120, 440, 1000},
		amplitude: 12000,
	}
}

func (s *Simulator) Configure(ctx context.Context, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.mode = mode
	return nil
}

func (s *Simulator) Arm(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.armed = true
	s.started = time.Now()
	s.produced = 0
	return nil
}

func (s *Simulator) Disarm(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.armed = false
	return nil
}

func (s *Simulator) ReadFrames(ctx context.Context, dst []Frame) (int, error) {
	for {
		s.mx.Lock()
		if !s.armed {
			s.mx.Unlock()
			return 0, fmt.Errorf("simulator is not armed")
		}
		due := int64(time.Since(s.started).Seconds()*float64(s.rate)) - s.produced
		if due > 0 {
			n := int(min(due, int64(len(dst))))
			for i := 0; i < n; i++ {
				dst[i] = s.frame(s.produced + int64(i))
			}
			s.produced += int64(n)
			s.mx.Unlock()
			return n, nil
		}
		wait := time.Duration(float64(len(dst)) / float64(s.rate) * float64(time.Second))
		s.mx.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Simulator) frame(n int64) Frame {
	var f Frame
	t := float64(n) / float64(s.rate)
	for ch := range f {
		v := 32768 + s.amplitude*math.Sin(2*math.Pi*s.freqs[ch]*t)
		f[ch] = uint16(v)
	}
	return f
}
