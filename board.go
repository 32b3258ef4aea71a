package timeswipe

import "context"

// Pin is a single addressable output line.
type Pin interface {
	// Set drives the line.
	Set(level bool) error
	// Readback returns the level last written with Set.
	Readback() bool
	// Get returns the level observed on the line.
	Get() bool
}

// Event is a button/error event reported by the board firmware.
type Event struct {
	Button        bool
	ButtonCounter int
}

// Board is the firmware side of the device: an opaque settings channel plus
// an event source. Implementations are called from one goroutine at a time.
type Board interface {
	GetSettings(ctx context.Context, request string) (string, error)
	SetSettings(ctx context.Context, request string) (string, error)
	// ReadEvents returns the events reported since the previous call, if any.
	ReadEvents(ctx context.Context) ([]Event, error)
}
