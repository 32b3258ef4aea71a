package record

import (
	"context"
)

// FramesBehaviorFunc fills dst and returns the number of frames written.
type FramesBehaviorFunc func(ctx context.Context, dst []Frame) (int, error)

// MockSampler is a Sampler driven by a behavior function. Configure, Arm and
// Disarm always succeed and are recorded.
type MockSampler struct {
	behavior FramesBehaviorFunc
	Mode     Mode
	Armed    bool
}

// NewMockSampler creates a mock sampler calling behavior on each ReadFrames.
//
// Example usage:
//
//	s := NewMockSampler(func(ctx context.Context, dst []Frame) (int, error) {
//		dst[0] = Frame{1, 2, 3, 4}
//		return 1, nil
//	})
func NewMockSampler(behavior FramesBehaviorFunc) *MockSampler {
	return &MockSampler{behavior: behavior}
}

func (m *MockSampler) Configure(ctx context.Context, mode Mode) error {
	m.Mode = mode
	return nil
}

func (m *MockSampler) Arm(ctx context.Context) error {
	m.Armed = true
	return nil
}

func (m *MockSampler) Disarm(ctx context.Context) error {
	m.Armed = false
	return nil
}

func (m *MockSampler) ReadFrames(ctx context.Context, dst []Frame) (int, error) {
	return m.behavior(ctx, dst)
}
