package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/board"
	"github.com/mklimuk/timeswipe/config"
	"github.com/mklimuk/timeswipe/driver"
	"github.com/mklimuk/timeswipe/eeprom"
	"github.com/mklimuk/timeswipe/gpio"
	"github.com/mklimuk/timeswipe/i2c"
	"github.com/mklimuk/timeswipe/record"
	"github.com/mklimuk/timeswipe/tsctx"
)

// loadConfig reads the file named by --config over the defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func commandContext(c *cli.Context, cfg config.Config) context.Context {
	ctx := tsctx.SetVerbose(c.Context, c.Bool("verbose"))
	return tsctx.WithDevice(ctx, cfg.Device)
}

// station is a driver together with the resources it was built from.
type station struct {
	ts      *driver.TimeSwipe
	board   timeswipe.Board
	closers []io.Closer
}

func (s *station) Close() error {
	var first error
	if err := s.ts.Close(); err != nil {
		first = err
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openStation builds the driver from cfg and the global flags: the simulator and an in-memory
// board, or the SPI data and control links of a mounted HAT.
func openStation(c *cli.Context, cfg config.Config, opts ...driver.Opt) (*station, error) {
	log := slog.Default()
	simulate := c.Bool("simulate")
	opts = append(cfg.DriverOpts(), append(opts, driver.WithLogger(log), driver.WithVerbose(c.Bool("verbose")))...)
	if simulate {
		b := board.NewMemory()
		reader := record.NewReader(record.NewSimulator(driver.BaseSampleRate), record.WithLogger(log))
		return &station{ts: driver.New(reader, b, opts...), board: b}, nil
	}

	s := &station{}
	fail := func(err error) (*station, error) {
		for i := len(s.closers) - 1; i >= 0; i-- {
			_ = s.closers[i].Close()
		}
		return nil, err
	}
	data, err := board.OpenSPI(cfg.SPI.Port, physic.Frequency(cfg.SPI.Speed)*physic.Hertz)
	if err != nil {
		return fail(fmt.Errorf("could not open data port: %w", err))
	}
	s.closers = append(s.closers, data)
	enable, err := gpio.OpenHostPin(cfg.SPI.EnablePin)
	if err != nil {
		return fail(fmt.Errorf("could not open enable pin: %w", err))
	}
	var samplerOpts []record.SPISamplerOpt
	if cfg.SPI.DataReady != "" {
		ready, err := gpio.OpenInputPin(cfg.SPI.DataReady)
		if err != nil {
			return fail(fmt.Errorf("could not open data ready pin: %w", err))
		}
		samplerOpts = append(samplerOpts, record.WithDataReady(ready))
	}
	control, err := board.OpenSPI(cfg.SPI.BoardPort, physic.Frequency(cfg.SPI.BoardSpeed)*physic.Hertz)
	if err != nil {
		return fail(fmt.Errorf("could not open control port: %w", err))
	}
	s.closers = append(s.closers, control)

	if cfg.EEPROM.Bus != "" {
		bus, err := i2c.NewGenericBus(cfg.EEPROM.Bus)
		if err != nil {
			return fail(fmt.Errorf("could not open eeprom bus: %w", err))
		}
		s.closers = append(s.closers, bus)
		mem := eeprom.NewI2CMemory(bus, cfg.EEPROM.Address)
		opts = append(opts, driver.WithEEPROM(eeprom.NewVerifier(mem, log)))
	}

	reader := record.NewReader(record.NewSPISampler(data, enable, samplerOpts...), record.WithLogger(log))
	s.board = board.NewLink(control, board.WithLogger(log))
	s.ts = driver.New(reader, s.board, opts...)
	return s, nil
}
