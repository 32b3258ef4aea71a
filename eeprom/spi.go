package eeprom

import (
	"context"
	"fmt"
	"time"

	"gobot.io/x/gobot/v2/drivers/spi"
)

// Microchip 25AA1024 instruction set (datasheet table 3-1).
const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdWREN  = 0x06
	cmdRDSR  = 0x05

	statusWIP = 0x01

	pageSize    = 256
	spiCapacity = 131072
)

// spiOps is the subset of the gobot SPI connection used by the memory.
type spiOps interface {
	ReadCommandData(command []byte, data []byte) error
	WriteBytes(data []byte) error
}

// SPIMemory is a 25AA1024 1-Mbit SPI EEPROM driven through gobot.
type SPIMemory struct {
	driver      *spi.Driver
	conn        func() (spiOps, error)
	pollWait    time.Duration
	writeWindow time.Duration
}

// NewSPIMemory binds the memory to a gobot SPI adaptor. Additional driver
// options (e.g. spi.WithBusNumber) may be supplied.
func NewSPIMemory(adaptor spi.Connector, name string, opts ...func(spi.Config)) *SPIMemory {
	d := spi.NewDriver(adaptor, name, opts...)
	// mode 0 (CPOL=0, CPHA=0) up to 20 MHz
	d.SetMode(0)
	if d.GetSpeedOrDefault(0) == 0 {
		d.SetSpeed(5_000_000)
	}
	m := &SPIMemory{driver: d}
	m.conn = func() (spiOps, error) {
		ops, ok := d.Connection().(spiOps)
		if !ok {
			return nil, fmt.Errorf("spi connection does not support required operations")
		}
		return ops, nil
	}
	m.pollWait = 500 * time.Microsecond
	m.writeWindow = 10 * time.Millisecond
	return m
}

// Start establishes the SPI bus.
func (m *SPIMemory) Start() error { return m.driver.Start() }

// Halt releases the bus.
func (m *SPIMemory) Halt() error { return m.driver.Halt() }

func (m *SPIMemory) Read(ctx context.Context, address uint32, buf []byte) error {
	if address+uint32(len(buf)) > spiCapacity {
		return fmt.Errorf("read out of range")
	}
	ops, err := m.conn()
	if err != nil {
		return err
	}
	// only A16..A0 are used
	header := []byte{cmdRead, byte(address >> 16), byte(address >> 8), byte(address)}
	if err := ops.ReadCommandData(header, buf); err != nil {
		return fmt.Errorf("could not read eeprom at %#x: %w", address, err)
	}
	return nil
}

// Write pages data into chunks that do not cross a page boundary and waits
// for each internal write cycle to complete.
func (m *SPIMemory) Write(ctx context.Context, address uint32, data []byte) error {
	if address+uint32(len(data)) > spiCapacity {
		return fmt.Errorf("write out of range")
	}
	ops, err := m.conn()
	if err != nil {
		return err
	}
	offset := 0
	for offset < len(data) {
		space := pageSize - int(address%pageSize)
		chunk := data[offset:]
		if len(chunk) > space {
			chunk = chunk[:space]
		}
		if err := m.pageWrite(ctx, ops, address, chunk); err != nil {
			return fmt.Errorf("could not write page at %#x: %w", address, err)
		}
		offset += len(chunk)
		address += uint32(len(chunk))
	}
	return nil
}

func (m *SPIMemory) pageWrite(ctx context.Context, ops spiOps, address uint32, data []byte) error {
	if err := ops.WriteBytes([]byte{cmdWREN}); err != nil {
		return fmt.Errorf("write enable: %w", err)
	}
	tx := append([]byte{cmdWrite, byte(address >> 16), byte(address >> 8), byte(address)}, data...)
	if err := ops.WriteBytes(tx); err != nil {
		return err
	}
	return m.waitUntilReady(ctx, ops)
}

// waitUntilReady polls STATUS.WIP; a page write takes at most 6 ms.
func (m *SPIMemory) waitUntilReady(ctx context.Context, ops spiOps) error {
	ctx, cancel := context.WithTimeout(ctx, m.writeWindow)
	defer cancel()
	status := make([]byte, 1)
	for {
		if err := ops.ReadCommandData([]byte{cmdRDSR}, status); err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if status[0]&statusWIP == 0 {
			return nil
		}
		timer := time.NewTimer(m.pollWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("timeout waiting for write completion: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
