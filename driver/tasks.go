package driver

import (
	"context"
	"math"
	"time"

	"github.com/mklimuk/timeswipe/record"
	"github.com/mklimuk/timeswipe/resample"
)

// fetch is the only producer of the record queue and the only consumer of
// the event queue.
func (t *TimeSwipe) fetch(ctx context.Context, onButton ButtonCallback) {
	defer t.wg.Done()
	failed := false
	for t.work.Load() {
		b, err := t.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.opts.Metrics.ReadFailed()
			if !failed {
				t.log.Error("record source read failed", "error", err)
				failed = true
			} else {
				t.log.Debug("record source read failed", "error", err)
			}
			if sleep(ctx, t.opts.PollInterval) != nil {
				return
			}
			continue
		}
		if !b.Empty() {
			t.opts.Metrics.BatchRead()
			t.enqueue(b)
		}
		t.dispatchEvents(onButton)
	}
}

// enqueue never blocks; a full queue is counted as a dropped batch.
func (t *TimeSwipe) enqueue(b record.Batch) {
	if t.records.Push(b) {
		return
	}
	t.opts.Metrics.BatchDropped()
	for {
		v := t.dropped.Load()
		if v == math.MaxUint64 || t.dropped.CompareAndSwap(v, v+1) {
			return
		}
	}
}

func (t *TimeSwipe) dispatchEvents(onButton ButtonCallback) {
	for {
		e, ok := t.events.Pop()
		if !ok {
			return
		}
		t.opts.Metrics.ButtonEvent()
		if onButton != nil {
			onButton(e.ButtonCounter%2 == 1, e.ButtonCounter)
		}
	}
}

// poll is the only consumer of the record queue.
func (t *TimeSwipe) poll(ctx context.Context, b *burst, rs *resample.Resampler, cb ReadCallback, onError ErrorCallback) {
	defer t.wg.Done()
	popped := make([]record.Batch, PopSize)
	for t.work.Load() {
		if t.pollOnce(popped, b, rs, cb, onError) {
			continue
		}
		if sleep(ctx, t.opts.PollInterval) != nil {
			break
		}
	}
	if !t.opts.FlushOnStop {
		return
	}
	if rest, dropped, ok := b.flush(); ok {
		t.deliver(cb, rest, dropped)
	}
}

// pollOnce runs one poller cycle and reports whether there was any work.
func (t *TimeSwipe) pollOnce(popped []record.Batch, b *burst, rs *resample.Resampler, cb ReadCallback, onError ErrorCallback) bool {
	n := t.records.PopBatch(popped)
	dropped := t.dropped.Swap(0)
	if n == 0 && dropped == 0 {
		return false
	}
	if dropped > 0 && onError != nil {
		onError(dropped)
	}
	if n == 0 {
		b.countDropped(dropped)
		return true
	}
	out := transform(popped[:n], rs)
	clear(popped[:n])
	if ready, d, ok := b.push(out, dropped); ok {
		t.deliver(cb, ready, d)
	}
	return true
}

func (t *TimeSwipe) deliver(cb ReadCallback, out record.Batch, dropped uint64) {
	t.opts.Metrics.Delivered(out.Len())
	if cb != nil {
		cb(out, dropped)
	}
}

// transform resamples each batch in arrival order, or joins them when no
// resampler is installed.
func transform(batches []record.Batch, rs *resample.Resampler) record.Batch {
	if rs == nil {
		return record.Concat(batches)
	}
	out := make([]record.Batch, 0, len(batches))
	for _, b := range batches {
		out = append(out, rs.Resample(b))
	}
	return record.Concat(out)
}

// control is the only consumer of the request queue and the only producer of
// the event and response queues while the session runs.
func (t *TimeSwipe) control(ctx context.Context) {
	defer t.wg.Done()
	failed := false
	for t.work.Load() {
		events, err := t.board.ReadEvents(ctx)
		switch {
		case err != nil && ctx.Err() == nil && !failed:
			t.log.Warn("could not read board events", "error", err)
			failed = true
		case err != nil && ctx.Err() == nil:
			t.log.Debug("could not read board events", "error", err)
		case err == nil:
			failed = false
		}
		for _, e := range events {
			if !e.Button {
				continue
			}
			if !t.events.Push(e) {
				t.opts.Metrics.EventDropped()
				t.log.Warn("button event dropped", "counter", e.ButtonCounter)
			}
		}
		t.processRequests(ctx)
		if sleep(ctx, t.opts.ControlInterval) != nil {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// burst accumulates samples until size is reached. It belongs to the poller.
type burst struct {
	size    int
	buf     record.Batch
	dropped uint64
}

func newBurst(size int) *burst {
	return &burst{size: size}
}

func (b *burst) Len() int {
	return b.buf.Len()
}

func (b *burst) countDropped(n uint64) {
	b.dropped = saturatingAdd(b.dropped, n)
}

// push adds in and returns a batch to deliver once the threshold is met.
// The burst never touches a delivered batch again.
func (b *burst) push(in record.Batch, dropped uint64) (record.Batch, uint64, bool) {
	b.countDropped(dropped)
	if in.Empty() {
		return record.Batch{}, 0, false
	}
	if b.buf.Empty() && in.Len() >= b.size {
		return in, b.take(), true
	}
	if b.buf.Empty() {
		b.buf = in
	} else {
		b.buf.Append(in)
	}
	if b.buf.Len() < b.size {
		return record.Batch{}, 0, false
	}
	out := b.buf
	b.buf = record.Batch{}
	return out, b.take(), true
}

// flush hands out whatever is buffered.
func (b *burst) flush() (record.Batch, uint64, bool) {
	if b.buf.Empty() {
		return record.Batch{}, 0, false
	}
	out := b.buf
	b.buf = record.Batch{}
	return out, b.take(), true
}

func (b *burst) take() uint64 {
	d := b.dropped
	b.dropped = 0
	return d
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
