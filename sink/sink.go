// Package sink routes delivered bursts to their consumers.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mklimuk/timeswipe/metrics"
	"github.com/mklimuk/timeswipe/record"
)

// Sink consumes bursts. Write is called from the driver poller and should
// return quickly.
type Sink interface {
	Write(b record.Batch, dropped uint64) error
	Close() error
}

type named struct {
	name string
	sink Sink
}

// Fanout writes every burst to all attached sinks. A failing sink is logged
// and counted but does not stop the others.
type Fanout struct {
	sinks   []named
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewFanout(m *metrics.Metrics, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{metrics: m, log: log.With("component", "sink")}
}

func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, named{name: name, sink: s})
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Write matches driver.ReadCallback.
func (f *Fanout) Write(b record.Batch, dropped uint64) {
	for _, s := range f.sinks {
		if err := s.sink.Write(b, dropped); err != nil {
			f.metrics.SinkFailed(s.name)
			f.log.Warn("sink write failed", "sink", s.name, "error", err)
		}
	}
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// ChannelStats summarizes one channel of a burst.
type ChannelStats struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float64 `json:"mean"`
	RMS  float64 `json:"rms"`
}

// Stats summarizes a burst.
type Stats struct {
	Samples  int                              `json:"samples"`
	Dropped  uint64                           `json:"dropped"`
	Channels [record.SensorCount]ChannelStats `json:"channels"`
}

func Summarize(b record.Batch, dropped uint64) Stats {
	s := Stats{Samples: b.Len(), Dropped: dropped}
	for ch, values := range b.Channels {
		if len(values) == 0 {
			continue
		}
		c := ChannelStats{Min: values[0], Max: values[0]}
		var sum, sq float64
		for _, v := range values {
			c.Min = min(c.Min, v)
			c.Max = max(c.Max, v)
			sum += float64(v)
			sq += float64(v) * float64(v)
		}
		n := float64(len(values))
		c.Mean = sum / n
		c.RMS = math.Sqrt(sq / n)
		s.Channels[ch] = c
	}
	return s
}
