package gpio

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/timeswipe"
)

var _ timeswipe.Pin = &HostPin{}

// HostPin is a line of the host SoC, e.g. "GPIO17".
type HostPin struct {
	pin   gpio.PinIO
	level atomic.Bool
}

// OpenHostPin looks the line up by name and drives it low.
func OpenHostPin(name string) (*HostPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown gpio %s", name)
	}
	return NewHostPin(p)
}

// NewHostPin wraps a periph pin and drives it low.
func NewHostPin(p gpio.PinIO) (*HostPin, error) {
	h := &HostPin{pin: p}
	if err := h.Set(false); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HostPin) Set(level bool) error {
	err := h.pin.Out(gpio.Level(level))
	if err != nil {
		return fmt.Errorf("could not set %s: %w", h.pin.Name(), err)
	}
	h.level.Store(level)
	return nil
}

func (h *HostPin) Readback() bool {
	return h.level.Load()
}

func (h *HostPin) Get() bool {
	return bool(h.pin.Read())
}

// InputPin is a host line used as input only, e.g. a data-ready signal.
type InputPin struct {
	pin gpio.PinIO
}

func OpenInputPin(name string) (*InputPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown gpio %s", name)
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("could not configure %s as input: %w", name, err)
	}
	return &InputPin{pin: p}, nil
}

func (i *InputPin) Set(level bool) error {
	return fmt.Errorf("%s is an input", i.pin.Name())
}

func (i *InputPin) Readback() bool {
	return i.Get()
}

func (i *InputPin) Get() bool {
	return bool(i.pin.Read())
}
