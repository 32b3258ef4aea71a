package shiftreg

import (
	"sync/atomic"

	"github.com/mklimuk/timeswipe"
)

var _ timeswipe.Pin = &Pin{}

// Pin is one output of a shift register.
type Pin struct {
	arena    *Arena
	reg      RegisterID
	bit      int
	released atomic.Bool
}

func (p *Pin) Register() RegisterID {
	return p.reg
}

func (p *Pin) Bit() int {
	return p.bit
}

// Set changes the output and rewrites the register.
func (p *Pin) Set(level bool) error {
	if p.released.Load() {
		return ErrReleased
	}
	return p.arena.setBit(p.reg, p.bit, level)
}

func (p *Pin) Readback() bool {
	return p.arena.bit(p.reg, p.bit)
}

// Get returns the latched level; register outputs cannot be sensed.
func (p *Pin) Get() bool {
	return p.Readback()
}

// Release frees the bit for another pin. Further calls to Set fail.
func (p *Pin) Release() {
	if p.released.Swap(true) {
		return
	}
	p.arena.release(p.reg, p.bit)
}
