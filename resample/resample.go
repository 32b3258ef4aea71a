package resample

import (
	"fmt"

	"github.com/mklimuk/timeswipe/record"
)

// Resampler converts a stream of batches from the base rate to the target rate
// using linear interpolation. Interpolation state is carried across calls so
// consecutive batches are treated as one continuous signal.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	target int
	base   int
	// acc is the position of the next output sample relative to the first
	// sample of the next input batch, in units of 1/target input samples.
	// It may be negative, in which case interpolation uses last.
	acc    int64
	last   [record.SensorCount]float32
	primed bool
}

// New creates a resampler producing target samples for every base input samples.
func New(target, base int) (*Resampler, error) {
	if target < 1 || base < 1 {
		return nil, fmt.Errorf("invalid resampling ratio %d/%d", target, base)
	}
	return &Resampler{target: target, base: base}, nil
}

func (r *Resampler) Target() int {
	return r.target
}

func (r *Resampler) Base() int {
	return r.base
}

// Resample consumes in and returns the output samples that became computable.
// The returned batch never shares memory with in.
func (r *Resampler) Resample(in record.Batch) record.Batch {
	n := int64(in.Len())
	if n == 0 {
		return record.Batch{}
	}
	target := int64(r.target)
	limit := (n - 1) * target
	estimate := int((limit-r.acc)/int64(r.base)) + 1
	out := record.NewBatch(max(estimate, 0))

	for r.acc <= limit {
		idx := floorDiv(r.acc, target)
		frac := float32(r.acc-idx*target) / float32(target)
		for ch := range out.Channels {
			out.Channels[ch] = append(out.Channels[ch], r.sample(in.Channels[ch], ch, idx, frac))
		}
		r.acc += int64(r.base)
	}
	r.acc -= n * target
	for ch := range r.last {
		r.last[ch] = in.Channels[ch][n-1]
	}
	r.primed = true
	return out
}

// Reset drops the carried state.
func (r *Resampler) Reset() {
	r.acc = 0
	r.primed = false
}

func (r *Resampler) sample(x []float32, ch int, idx int64, frac float32) float32 {
	var y0 float32
	if idx < 0 {
		y0 = r.last[ch]
		if !r.primed {
			y0 = x[0]
		}
	} else {
		y0 = x[idx]
	}
	if frac == 0 {
		return y0
	}
	y1 := x[idx+1]
	return y0 + frac*(y1-y0)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
