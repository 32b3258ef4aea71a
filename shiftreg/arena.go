// Package shiftreg drives serial-in/parallel-out shift registers.
//
// Every register is clocked through its own data, clock and strobe lines.
// Changing any output rewrites the whole register, most significant bit
// first, and pulses strobe to latch it. Output pins are handed out by an
// Arena and addressed by register id and bit.
package shiftreg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/timeswipe"
)

const MaxBits = 64

var (
	ErrUnknownRegister = errors.New("unknown register")
	ErrBitOutOfRange   = errors.New("bit out of range")
	ErrPinInUse        = errors.New("pin already in use")
	ErrReleased        = errors.New("pin released")
)

// RegisterID identifies a register within its Arena.
type RegisterID int

type register struct {
	data   timeswipe.Pin
	clock  timeswipe.Pin
	strobe timeswipe.Pin
	bits   int
	value  uint64
	used   uint64
}

// Arena owns shift registers and tracks which of their bits are taken.
type Arena struct {
	mx   sync.Mutex
	regs []*register
}

func NewArena() *Arena {
	return &Arena{}
}

// NewRegister adds a register of the given width. The register starts
// cleared; call SetValue to push an initial state to the hardware.
func (a *Arena) NewRegister(data, clock, strobe timeswipe.Pin, bits int) (RegisterID, error) {
	if bits < 1 || bits > MaxBits {
		return 0, fmt.Errorf("%w: register width %d", ErrBitOutOfRange, bits)
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	a.regs = append(a.regs, &register{data: data, clock: clock, strobe: strobe, bits: bits})
	return RegisterID(len(a.regs) - 1), nil
}

// Pin claims one output of a register.
func (a *Arena) Pin(id RegisterID, bit int) (*Pin, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return nil, err
	}
	if bit < 0 || bit >= r.bits {
		return nil, fmt.Errorf("%w: bit %d of %d", ErrBitOutOfRange, bit, r.bits)
	}
	mask := uint64(1) << bit
	if r.used&mask != 0 {
		return nil, fmt.Errorf("%w: register %d bit %d", ErrPinInUse, id, bit)
	}
	r.used |= mask
	return &Pin{arena: a, reg: id, bit: bit}, nil
}

// Free returns the mask of bits not claimed by any pin.
func (a *Arena) Free(id RegisterID) (uint64, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return 0, err
	}
	return ^r.used & widthMask(r.bits), nil
}

// SetValue writes the whole register regardless of claimed pins.
func (a *Arena) SetValue(id RegisterID, value uint64) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return err
	}
	return r.write(value & widthMask(r.bits))
}

// Value returns the last value written to the register.
func (a *Arena) Value(id RegisterID) (uint64, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return 0, err
	}
	return r.value, nil
}

func (a *Arena) setBit(id RegisterID, bit int, level bool) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return err
	}
	v := r.value
	if level {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return r.write(v)
}

func (a *Arena) bit(id RegisterID, bit int) bool {
	a.mx.Lock()
	defer a.mx.Unlock()
	r, err := a.register(id)
	if err != nil {
		return false
	}
	return r.value&(1<<bit) != 0
}

func (a *Arena) release(id RegisterID, bit int) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if r, err := a.register(id); err == nil {
		r.used &^= 1 << bit
	}
}

func (a *Arena) register(id RegisterID) (*register, error) {
	if id < 0 || int(id) >= len(a.regs) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegister, id)
	}
	return a.regs[id], nil
}

// write shifts value out MSB first and latches it. The cached value is only
// updated when the whole sequence succeeded.
func (r *register) write(value uint64) error {
	for i := r.bits - 1; i >= 0; i-- {
		if err := r.data.Set(value&(1<<i) != 0); err != nil {
			return fmt.Errorf("could not set data line: %w", err)
		}
		if err := pulse(r.clock); err != nil {
			return fmt.Errorf("could not clock bit %d: %w", i, err)
		}
	}
	if err := pulse(r.strobe); err != nil {
		return fmt.Errorf("could not latch register: %w", err)
	}
	r.value = value
	return nil
}

func pulse(p timeswipe.Pin) error {
	if err := p.Set(true); err != nil {
		return err
	}
	return p.Set(false)
}

func widthMask(bits int) uint64 {
	if bits == MaxBits {
		return ^uint64(0)
	}
	return 1<<bits - 1
}
