package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/timeswipe"
)

type registry int

const DefaultMCP23017Address = 0x21

// Bank selects one of the two 8-bit ports of the expander.
type Bank int

const (
	BankA Bank = iota
	BankB
)

func (b Bank) String() string {
	if b == BankB {
		return "B"
	}
	return "A"
}

const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

// BankAddr maps registries to addresses for IOCON.BANK = 0 and IOCON.BANK = 1.
var BankAddr = []map[registry]byte{
	{
		IODIRA:   0x00,
		IOPOLA:   0x02,
		GPINTENA: 0x04,
		DEFVALA:  0x06,
		INTCONA:  0x08,
		IOCONA:   0x0A,
		GPPUA:    0x0C,
		INTFA:    0x0E,
		INTCAPA:  0x10,
		GPIOA:    0x12,
		OLATA:    0x14,
		IODIRB:   0x01,
		IOPOLB:   0x03,
		GPINTENB: 0x05,
		DEFVALB:  0x07,
		INTCONB:  0x09,
		IOCONB:   0x0B,
		GPPUB:    0x0D,
		INTFB:    0x0F,
		INTCAPB:  0x11,
		GPIOB:    0x13,
		OLATB:    0x15,
	},
	{
		IODIRA:   0x00,
		IOPOLA:   0x01,
		GPINTENA: 0x02,
		DEFVALA:  0x03,
		INTCONA:  0x04,
		IOCONA:   0x05,
		GPPUA:    0x06,
		INTFA:    0x07,
		INTCAPA:  0x08,
		GPIOA:    0x09,
		OLATA:    0x0A,
		IODIRB:   0x10,
		IOPOLB:   0x11,
		GPINTENB: 0x12,
		DEFVALB:  0x13,
		INTCONB:  0x14,
		IOCONB:   0x15,
		GPPUB:    0x16,
		INTFB:    0x17,
		INTCAPB:  0x18,
		GPIOB:    0x19,
		OLATB:    0x1A,
	},
}

var bankRegistries = [2]struct{ iodir, gppu, gpio, olat registry }{
	{IODIRA, GPPUA, GPIOA, OLATA},
	{IODIRB, GPPUB, GPIOB, OLATB},
}

/*
	Steps to drive an output:

1. Clear the pin bit in IODIR (0 = output)
2. Write the whole port to OLAT
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  timeswipe.I2CBus
	bank       int
	address    byte
	retryLimit int
	latch      [2]byte
	dir        [2]byte
}

type MCP23017Opt func(*MCP23017)

// WithRetryLimit sets how many times a busy bus is released and the command retried.
func WithRetryLimit(n int) MCP23017Opt {
	return func(m *MCP23017) {
		if n > 0 {
			m.retryLimit = n
		}
	}
}

func NewMCP23017(bus timeswipe.I2CBus, address byte, opts ...MCP23017Opt) *MCP23017 {
	m := &MCP23017{retryLimit: 1, transport: bus, address: address, dir: [2]byte{0xff, 0xff}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init sets the IODIR registry of the bank (1 = input, 0 = output).
func (m *MCP23017) Init(ctx context.Context, bank Bank, inout byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	err := m.write(ctx, bankRegistries[bank].iodir, inout)
	if err != nil {
		return fmt.Errorf("could not initialize gpio %s set: %w", bank, err)
	}
	m.dir[bank] = inout
	return nil
}

// PullUp sets up pull up resistors on the bank.
func (m *MCP23017) PullUp(ctx context.Context, bank Bank, settings byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	err := m.write(ctx, bankRegistries[bank].gppu, settings)
	if err != nil {
		return fmt.Errorf("could not set pull-up on gpio %s set: %w", bank, err)
	}
	return nil
}

// ReadPort reads the input levels of the bank.
func (m *MCP23017) ReadPort(ctx context.Context, bank Bank) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	res, err := m.read(ctx, bankRegistries[bank].gpio)
	if err != nil {
		return 0, fmt.Errorf("could not read gpio %s set: %w", bank, err)
	}
	return res, nil
}

// WritePort drives the output latch of the bank.
func (m *MCP23017) WritePort(ctx context.Context, bank Bank, value byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.writeLatch(ctx, bank, value)
}

// ReadSettings reads contents of IOCON registry
func (m *MCP23017) ReadSettings(ctx context.Context) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	res, err := m.read(ctx, IOCONA)
	if err != nil {
		return 0, fmt.Errorf("could not read expander settings: %w", err)
	}
	return res, nil
}

// Pin configures one line of the bank as an output and returns it.
func (m *MCP23017) Pin(ctx context.Context, bank Bank, bit int) (*ExpanderPin, error) {
	if bit < 0 || bit > 7 {
		return nil, fmt.Errorf("invalid expander pin %s%d", bank, bit)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	dir := m.dir[bank] &^ (1 << bit)
	err := m.write(ctx, bankRegistries[bank].iodir, dir)
	if err != nil {
		return nil, fmt.Errorf("could not configure pin %s%d as output: %w", bank, bit, err)
	}
	m.dir[bank] = dir
	return &ExpanderPin{dev: m, bank: bank, bit: bit}, nil
}

func (m *MCP23017) setBit(ctx context.Context, bank Bank, bit int, level bool) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	v := m.latch[bank]
	if level {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return m.writeLatch(ctx, bank, v)
}

func (m *MCP23017) latched(bank Bank, bit int) bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.latch[bank]&(1<<bit) != 0
}

func (m *MCP23017) writeLatch(ctx context.Context, bank Bank, value byte) error {
	err := m.write(ctx, bankRegistries[bank].olat, value)
	if err != nil {
		return fmt.Errorf("could not write gpio %s latch: %w", bank, err)
	}
	m.latch[bank] = value
	return nil
}

func (m *MCP23017) write(ctx context.Context, reg registry, value byte) error {
	return m.retry(ctx, func() error {
		return m.transport.WriteToAddr(ctx, m.address, []byte{BankAddr[m.bank][reg], value})
	})
}

func (m *MCP23017) read(ctx context.Context, reg registry) (byte, error) {
	buf := make([]byte, 1)
	err := m.retry(ctx, func() error {
		err := m.transport.WriteToAddr(ctx, m.address, []byte{BankAddr[m.bank][reg]})
		if err != nil {
			return fmt.Errorf("could not set I/O registry address: %w", err)
		}
		return m.transport.ReadFromAddr(ctx, m.address, buf)
	})
	return buf[0], err
}

// retry releases a busy bus and tries again up to the retry limit.
func (m *MCP23017) retry(ctx context.Context, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, timeswipe.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

var _ timeswipe.Pin = &ExpanderPin{}

// ExpanderPin is one output line of an MCP23017.
type ExpanderPin struct {
	dev  *MCP23017
	bank Bank
	bit  int
}

func (p *ExpanderPin) Set(level bool) error {
	return p.dev.setBit(context.Background(), p.bank, p.bit, level)
}

func (p *ExpanderPin) Readback() bool {
	return p.dev.latched(p.bank, p.bit)
}

// Get reads the port; a failed read reports the latched level.
func (p *ExpanderPin) Get() bool {
	v, err := p.dev.ReadPort(context.Background(), p.bank)
	if err != nil {
		return p.Readback()
	}
	return v&(1<<p.bit) != 0
}
