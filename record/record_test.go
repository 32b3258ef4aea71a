package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcat(t *testing.T) {
	tests := []struct {
		name    string
		batches []Batch
		want    []float32
	}{
		{name: "none", batches: nil, want: nil},
		{name: "single", batches: []Batch{batchOf(1, 2)}, want: []float32{1, 2}},
		{name: "ordered", batches: []Batch{batchOf(1), batchOf(2, 3), batchOf(4)}, want: []float32{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Concat(tt.batches)
			assert.Equal(t, len(tt.want), out.Len())
			for ch := range out.Channels {
				if tt.want == nil {
					assert.Empty(t, out.Channels[ch])
					continue
				}
				assert.Equal(t, tt.want, out.Channels[ch])
			}
		})
	}
}

func TestBatchReset(t *testing.T) {
	b := batchOf(1, 2, 3)
	b.Reset()
	assert.True(t, b.Empty())
	assert.Equal(t, 3, cap(b.Channels[0]))
}

func TestCalibrationReciprocals(t *testing.T) {
	c := DefaultCalibration()
	require.NoError(t, c.SetGains([SensorCount]float32{2, 4, 0.5, 1}))
	assert.Equal(t, [SensorCount]float32{0.5, 0.25, 2, 1}, c.Gain)

	require.NoError(t, c.SetTransmissions([SensorCount]float32{10, 1, 1, 1}))
	assert.InDelta(t, 0.1, c.Transmission[0], 1e-6)

	err := c.SetGains([SensorCount]float32{1, 0, 1, 1})
	assert.Error(t, err)
	assert.Equal(t, float32(0.5), c.Gain[0], "failed update must not touch gains")
}

func TestCalibrationApply(t *testing.T) {
	c := DefaultCalibration()
	c.Offset = [SensorCount]int{100, 0, 0, 0}
	require.NoError(t, c.SetGains([SensorCount]float32{2, 1, 1, 1}))
	require.NoError(t, c.SetTransmissions([SensorCount]float32{5, 1, 1, 1}))
	assert.InDelta(t, 10.0, c.Apply(0, 200), 1e-5)
	assert.Equal(t, float32(7), c.Apply(1, 7))
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModePrimary, ModeNorm, ModeDigital} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("iepe")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.False(t, Mode(7).Valid())
}

func TestReaderRead(t *testing.T) {
	s := NewMockSampler(func(ctx context.Context, dst []Frame) (int, error) {
		dst[0] = Frame{10, 20, 30, 40}
		dst[1] = Frame{11, 21, 31, 41}
		return 2, nil
	})
	r := NewReader(s, WithChunkSize(8))
	r.SetOffsets([SensorCount]int{10, 0, 0, 0})
	require.NoError(t, r.SetGains([SensorCount]float32{1, 2, 1, 1}))

	b, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []float32{0, 1}, b.Channels[0])
	assert.Equal(t, []float32{10, 10.5}, b.Channels[1])
	assert.Equal(t, []float32{30, 31}, b.Channels[2])
}

func TestReaderReadError(t *testing.T) {
	failure := errors.New("bus fault")
	r := NewReader(NewMockSampler(func(ctx context.Context, dst []Frame) (int, error) {
		return 0, failure
	}))
	_, err := r.Read(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestReaderLifecycle(t *testing.T) {
	s := NewMockSampler(func(ctx context.Context, dst []Frame) (int, error) { return 0, nil })
	r := NewReader(s)
	ctx := context.Background()

	require.NoError(t, r.SetMode(ModeDigital))
	assert.Error(t, r.SetMode(Mode(-1)))
	require.NoError(t, r.Setup(ctx))
	assert.Equal(t, ModeDigital, s.Mode)

	require.NoError(t, r.Start(ctx))
	assert.True(t, s.Armed)
	require.NoError(t, r.Stop(ctx))
	assert.False(t, s.Armed)
	require.NoError(t, r.Stop(ctx))
}

type fakeTransport struct {
	reply []byte
	sent  int
}

func (f *fakeTransport) Tx(w, r []byte) error {
	f.sent += len(w)
	copy(r, f.reply)
	return nil
}

type fakePin struct {
	level bool
	gets  int
	after int
}

func (p *fakePin) Set(level bool) error { p.level = level; return nil }
func (p *fakePin) Readback() bool       { return p.level }
func (p *fakePin) Get() bool {
	p.gets++
	return p.gets > p.after
}

func TestSPISamplerDecode(t *testing.T) {
	tr := &fakeTransport{reply: []byte{
		0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x80, 0x00,
		0xff, 0xff, 0x12, 0x34, 0x00, 0x00, 0x00, 0x10,
	}}
	enable := &fakePin{}
	ready := &fakePin{after: 2}
	s := NewSPISampler(tr, enable, WithDataReady(ready))
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx))
	assert.True(t, enable.level)

	dst := make([]Frame, 2)
	n, err := s.ReadFrames(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Frame{1, 2, 3, 0x8000}, dst[0])
	assert.Equal(t, Frame{0xffff, 0x1234, 0, 0x10}, dst[1])
	assert.Equal(t, 16, tr.sent)
	assert.Equal(t, 3, ready.gets)

	require.NoError(t, s.Disarm(ctx))
	assert.False(t, enable.level)
}

func TestSPISamplerReadyCancelled(t *testing.T) {
	s := NewSPISampler(&fakeTransport{}, &fakePin{}, WithDataReady(&fakePin{after: 1 << 30}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := s.ReadFrames(ctx, make([]Frame, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatorPacing(t *testing.T) {
	s := NewSimulator(48000)
	ctx := context.Background()
	require.NoError(t, s.Arm(ctx))

	dst := make([]Frame, DefaultChunkSize)
	total := 0
	start := time.Now()
	for total < 480 {
		n, err := s.ReadFrames(ctx, dst)
		require.NoError(t, err)
		assert.Greater(t, n, 0)
		total += n
	}
	assert.GreaterOrEqual(t, time.Since(start), 9*time.Millisecond)

	require.NoError(t, s.Disarm(ctx))
	_, err := s.ReadFrames(ctx, dst)
	assert.Error(t, err)
}

func batchOf(values ...float32) Batch {
	b := NewBatch(len(values))
	for ch := range b.Channels {
		b.Channels[ch] = append(b.Channels[ch], values...)
	}
	return b
}
