package record

// SensorCount is the number of analog inputs on the board.
const SensorCount = 4

// Batch holds a time-contiguous window of samples, one slice per sensor.
// All channels always have the same length.
type Batch struct {
	Channels [SensorCount][]float32
}

// NewBatch returns an empty batch with room for capacity samples per channel.
func NewBatch(capacity int) Batch {
	var b Batch
	for i := range b.Channels {
		b.Channels[i] = make([]float32, 0, capacity)
	}
	return b
}

// Len returns the number of samples per channel.
func (b Batch) Len() int {
	return len(b.Channels[0])
}

func (b Batch) Empty() bool {
	return b.Len() == 0
}

// Append adds the samples of other after the samples of b.
func (b *Batch) Append(other Batch) {
	for i := range b.Channels {
		b.Channels[i] = append(b.Channels[i], other.Channels[i]...)
	}
}

// Reset truncates the batch, keeping its memory. Do not call it on a batch
// that has been handed to somebody else.
func (b *Batch) Reset() {
	for i := range b.Channels {
		b.Channels[i] = b.Channels[i][:0]
	}
}

// Concat joins batches in order. The first batch's memory is reused.
func Concat(batches []Batch) Batch {
	if len(batches) == 0 {
		return Batch{}
	}
	out := batches[0]
	for _, b := range batches[1:] {
		out.Append(b)
	}
	return out
}
