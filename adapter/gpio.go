package adapter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mklimuk/timeswipe"
)

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// This is alternate function of GPIO0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	// This is the dedicated function of GPIO1
	GPIO1ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO2
	GPIO2ADC2 GPIODesignation = 0b00000010
	// This is the alternate function 0 of GPIO3
	GPIO3ADC3 GPIODesignation = 0b00000010
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIOCount is the number of general purpose lines of the bridge.
const GPIOCount = 4

type GPIOValues struct {
	Mode  [GPIOCount]GPIOMode `yaml:"mode"`
	Value [GPIOCount]byte     `yaml:"value"`
}

type GPIOParameters struct {
	Mode        [GPIOCount]GPIOMode        `yaml:"mode"`
	Designation [GPIOCount]GPIODesignation `yaml:"designation"`
}

// SetGPIOParameters configures the lines in SRAM.
func (d *MCP2221) SetGPIOParameters(ctx context.Context, params GPIOParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x60
	// alter GP designation
	d.request[7] = 0x80
	for i := 0; i < GPIOCount; i++ {
		d.request[8+i] = byte(params.Designation[i]) | byte(params.Mode[i])
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x61
	var res GPIOParameters
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandUnsupported
	}
	for i := 0; i < GPIOCount; i++ {
		v := d.response[22+i]
		res.Mode[i] = GPIOMode(v & gpioModeMask)
		res.Designation[i] = GPIODesignation(v & gpioOperationMask)
	}
	return res, nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x51
	var res GPIOValues
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	for i := 0; i < GPIOCount; i++ {
		res.Value[i] = d.response[2+2*i]
		res.Mode[i] = GPIOModeNoOperation
		if dir := d.response[3+2*i]; dir != byte(GPIOModeNoOperation) {
			res.Mode[i] = GPIOMode(dir << 3)
		}
	}
	return res, nil
}

// WriteGPIO drives line as an output.
func (d *MCP2221) WriteGPIO(ctx context.Context, line int, level bool) error {
	if line < 0 || line >= GPIOCount {
		return fmt.Errorf("invalid gpio line %d", line)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x50
	off := 2 + 4*line
	d.request[off] = 0x01
	if level {
		d.request[off+1] = 0x01
	}
	// alter direction to output
	d.request[off+2] = 0x01
	d.request[off+3] = byte(GPIOModeOut)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GPIO value command write failed: %w", err)
	}
	if d.response[1] != 0x00 || d.response[off] == 0xEE {
		return fmt.Errorf("%w: GP%d is not configured for GPIO operation", ErrCommandFailed, line)
	}
	return nil
}

var _ timeswipe.Pin = &Pin{}

// Pin is one GPIO line of the bridge.
type Pin struct {
	dev   *MCP2221
	line  int
	level atomic.Bool
}

func (d *MCP2221) Pin(line int) (*Pin, error) {
	if line < 0 || line >= GPIOCount {
		return nil, fmt.Errorf("invalid gpio line %d", line)
	}
	return &Pin{dev: d, line: line}, nil
}

func (p *Pin) Set(level bool) error {
	err := p.dev.WriteGPIO(context.Background(), p.line, level)
	if err != nil {
		return err
	}
	p.level.Store(level)
	return nil
}

func (p *Pin) Readback() bool {
	return p.level.Load()
}

func (p *Pin) Get() bool {
	v, err := p.dev.ReadGPIO(context.Background())
	if err != nil {
		return p.Readback()
	}
	return v.Value[p.line] != 0
}
