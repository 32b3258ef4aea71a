package sink

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/mklimuk/timeswipe/record"
)

// WAV records bursts into a 4-channel PCM file.
type WAV struct {
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	scale   float32
	depth   int
	limit   float64
	frames  int
	samples []int
}

type WAVOpt func(*WAV)

// WithScale multiplies samples before they are quantized.
func WithScale(scale float32) WAVOpt {
	return func(w *WAV) { w.scale = scale }
}

// WithBitDepth selects 16, 24 or 32 bit samples.
func WithBitDepth(depth int) WAVOpt {
	return func(w *WAV) { w.depth = depth }
}

func NewWAV(path string, rate int, opts ...WAVOpt) (*WAV, error) {
	w := &WAV{scale: 1, depth: 16}
	for _, opt := range opts {
		opt(w)
	}
	switch w.depth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported wav bit depth %d", w.depth)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create wav file: %w", err)
	}
	w.file = f
	w.limit = math.Exp2(float64(w.depth-1)) - 1
	w.format = &audio.Format{SampleRate: rate, NumChannels: record.SensorCount}
	w.enc = wav.NewEncoder(f, rate, w.depth, record.SensorCount, 1)
	return w, nil
}

func (w *WAV) Write(b record.Batch, _ uint64) error {
	n := b.Len()
	if n == 0 {
		return nil
	}
	w.samples = w.samples[:0]
	for i := 0; i < n; i++ {
		for ch := range b.Channels {
			w.samples = append(w.samples, w.quantize(b.Channels[ch][i]))
		}
	}
	buf := &audio.IntBuffer{Data: w.samples, Format: w.format, SourceBitDepth: w.depth}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("could not write wav samples: %w", err)
	}
	w.frames += n
	return nil
}

// Frames returns the number of frames written so far.
func (w *WAV) Frames() int {
	return w.frames
}

func (w *WAV) quantize(v float32) int {
	x := math.Round(float64(v * w.scale))
	if x > w.limit {
		x = w.limit
	}
	if x < -w.limit-1 {
		x = -w.limit - 1
	}
	return int(x)
}

// Close finalizes the header and closes the file.
func (w *WAV) Close() error {
	err := w.enc.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("could not finalize wav file: %w", err)
	}
	return nil
}
