package eeprom

import (
	"context"
	"fmt"

	"github.com/mklimuk/timeswipe"
)

// DefaultI2CAddress is where HAT EEPROMs answer.
const DefaultI2CAddress = 0x50

// i2cChunk keeps reads within what USB bridges carry in one report.
const i2cChunk = 32

// I2CMemory is a 24Cxx EEPROM with 16-bit word addresses.
type I2CMemory struct {
	bus     timeswipe.I2CBus
	address byte
}

func NewI2CMemory(bus timeswipe.I2CBus, address byte) *I2CMemory {
	return &I2CMemory{bus: bus, address: address}
}

func (m *I2CMemory) Read(ctx context.Context, address uint32, buf []byte) error {
	if address+uint32(len(buf)) > 1<<16 {
		return fmt.Errorf("read out of range")
	}
	for off := 0; off < len(buf); off += i2cChunk {
		end := min(off+i2cChunk, len(buf))
		at := address + uint32(off)
		err := m.bus.WriteToAddr(ctx, m.address, []byte{byte(at >> 8), byte(at)})
		if err != nil {
			return fmt.Errorf("could not set eeprom address %#x: %w", at, err)
		}
		err = m.bus.ReadFromAddr(ctx, m.address, buf[off:end])
		if err != nil {
			return fmt.Errorf("could not read eeprom at %#x: %w", at, err)
		}
	}
	return nil
}
