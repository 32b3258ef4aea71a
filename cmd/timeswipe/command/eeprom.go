package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/mklimuk/timeswipe/adapter"
	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/eeprom"
	"github.com/mklimuk/timeswipe/i2c"
	"github.com/mklimuk/timeswipe/tsctx"
)

var sourceFlags = []cli.Flag{
	&cli.StringFlag{Name: "source", Usage: "i2c, mcp2221 or spi", Value: "i2c"},
	&cli.StringFlag{Name: "bus", Usage: "periph i2c bus name (i2c source)", Value: "1"},
	&cli.UintFlag{Name: "address", Usage: "i2c address of the memory", Value: eeprom.DefaultI2CAddress},
	&cli.IntFlag{Name: "adapter", Usage: "mcp2221 index; -1 picks the only one", Value: -1},
	&cli.StringFlag{Name: "platform", Usage: "gobot platform for the spi source: raspi or nanopi", Value: "raspi"},
	&cli.IntFlag{Name: "spi-bus", Usage: "spi bus number", Value: 0},
	&cli.IntFlag{Name: "spi-chip", Usage: "spi chip select", Value: 1},
}

type spiAdaptor interface {
	spi.Connector
	Connect() error
	Finalize() error
}

// openMemory returns the selected memory and a function releasing it.
func openMemory(c *cli.Context) (eeprom.Memory, func(), error) {
	switch c.String("source") {
	case "i2c":
		bus, err := i2c.NewGenericBus(c.String("bus"))
		if err != nil {
			return nil, nil, err
		}
		return eeprom.NewI2CMemory(bus, byte(c.Uint("address"))), func() { _ = bus.Close() }, nil
	case "mcp2221":
		a, err := adapter.Open(c.Int("adapter"))
		if err != nil {
			return nil, nil, err
		}
		return eeprom.NewI2CMemory(a, byte(c.Uint("address"))), func() { _ = a.Close() }, nil
	case "spi":
		mem, release, err := openSPIMemory(c)
		if err != nil {
			return nil, nil, err
		}
		return mem, release, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", c.String("source"))
	}
}

func openSPIMemory(c *cli.Context) (*eeprom.SPIMemory, func(), error) {
	var a spiAdaptor
	switch c.String("platform") {
	case "raspi":
		a = raspi.NewAdaptor()
	case "nanopi":
		a = nanopi.NewNeoAdaptor()
	default:
		return nil, nil, fmt.Errorf("unknown platform %q", c.String("platform"))
	}
	if err := a.Connect(); err != nil {
		return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	mem := eeprom.NewSPIMemory(a, "25aa1024", spi.WithBusNumber(c.Int("spi-bus")), spi.WithChipNumber(c.Int("spi-chip")))
	if err := mem.Start(); err != nil {
		_ = a.Finalize()
		return nil, nil, fmt.Errorf("SPI device start error: %w", err)
	}
	return mem, func() {
		_ = mem.Halt()
		_ = a.Finalize()
	}, nil
}

func memoryContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := tsctx.SetVerbose(c.Context, c.Bool("verbose"))
	return context.WithTimeout(ctx, 5*time.Second)
}

var EEPROMHeaderCmd = &cli.Command{
	Name:  "header",
	Usage: "read and verify the HAT eeprom header",
	Flags: sourceFlags,
	Action: func(c *cli.Context) error {
		mem, release, err := openMemory(c)
		if err != nil {
			return console.Exit(1, "could not open memory: %v", err)
		}
		defer release()
		ctx, cancel := memoryContext(c)
		defer cancel()
		h, err := eeprom.ReadHeader(ctx, mem)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		console.PInfof(console.PictoChip, "signature %s version %d atoms %s length %s",
			console.White(string(h.Signature[:])), h.Version, console.White(h.NumAtoms), console.White(h.Length))
		return nil
	},
}

var EEPROMReadCmd = &cli.Command{
	Name:  "read",
	Usage: "dump eeprom memory",
	Flags: append([]cli.Flag{
		&cli.UintFlag{Name: "at", Usage: "memory address to read", Value: 0},
		&cli.IntFlag{Name: "length", Usage: "number of bytes to read", Value: 64},
	}, sourceFlags...),
	Action: func(c *cli.Context) error {
		length := c.Int("length")
		if length <= 0 || length > 4096 {
			return console.Exit(1, "length out of range: %d", length)
		}
		mem, release, err := openMemory(c)
		if err != nil {
			return console.Exit(1, "could not open memory: %v", err)
		}
		defer release()
		ctx, cancel := memoryContext(c)
		defer cancel()
		buf := make([]byte, length)
		if err := mem.Read(ctx, uint32(c.Uint("at")), buf); err != nil {
			return console.Exit(1, "%v", err)
		}
		console.Print(hex.Dump(buf))
		return nil
	},
}

var EEPROMWriteCmd = &cli.Command{
	Name:  "write",
	Usage: "write bytes into the 25AA1024 spi eeprom",
	Flags: append([]cli.Flag{
		&cli.UintFlag{Name: "at", Usage: "memory address to write", Required: true},
		&cli.StringFlag{Name: "data", Usage: "hex bytes to write (e.g. '01FF23')", Required: true},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	}, sourceFlags...),
	Action: func(c *cli.Context) error {
		data, err := hex.DecodeString(c.String("data"))
		if err != nil {
			return console.Exit(1, "invalid data hex string: %v", err)
		}
		if c.String("source") != "spi" {
			return console.Exit(1, "writing is only supported for the spi source")
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write %d bytes at %#x?", len(data), c.Uint("at")))
			if err != nil || !ok {
				return console.Exit(1, "%v", console.ErrAborted)
			}
		}
		mem, release, err := openSPIMemory(c)
		if err != nil {
			return console.Exit(1, "could not open memory: %v", err)
		}
		defer release()
		ctx, cancel := memoryContext(c)
		defer cancel()
		if err := mem.Write(ctx, uint32(c.Uint("at")), data); err != nil {
			return console.Exit(1, "%v", err)
		}
		console.Infof("wrote %d bytes at %#05x", len(data), c.Uint("at"))
		return nil
	},
}

var EEPROMCmd = &cli.Command{
	Name:    "eeprom",
	Aliases: []string{"mem"},
	Usage:   "board identification memory",
	Subcommands: []*cli.Command{
		EEPROMHeaderCmd,
		EEPROMReadCmd,
		EEPROMWriteCmd,
	},
}
