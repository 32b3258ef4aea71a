package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/timeswipe"
	"github.com/mklimuk/timeswipe/adapter"
	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/config"
	"github.com/mklimuk/timeswipe/gpio"
	"github.com/mklimuk/timeswipe/i2c"
	"github.com/mklimuk/timeswipe/shiftreg"
	"github.com/mklimuk/timeswipe/tsctx"
)

var shiftregCmd = cli.Command{
	Name:  "shiftreg",
	Usage: "drive the DMS control shift register",
	Subcommands: cli.Commands{
		&shiftregSetCmd,
		&shiftregGetCmd,
	},
}

var lineFlags = []cli.Flag{
	&cli.StringFlag{Name: "lines", Usage: "host or expander", Value: "host"},
	&cli.StringFlag{Name: "data", Usage: "host data line", Value: "GPIO5"},
	&cli.StringFlag{Name: "clock", Usage: "host clock line", Value: "GPIO6"},
	&cli.StringFlag{Name: "strobe", Usage: "host strobe line", Value: "GPIO13"},
	&cli.StringFlag{Name: "expander-bus", Usage: "i2c bus name, or 'mcp2221'", Value: "1"},
	&cli.UintFlag{Name: "expander-address", Value: gpio.DefaultMCP23017Address},
}

var shiftregSetCmd = cli.Command{
	Name:      "set",
	Usage:     "set register outputs, e.g. 'iepe1=1 dac=0'",
	ArgsUsage: "<name>=<0|1>...",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "reset", Usage: "start from all outputs low instead of the last written value"},
	}, lineFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return console.Exit(1, "expected at least 1 argument")
		}
		levels, err := parseLevels(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load config: %v", err)
		}
		state := statePath(cfg)
		value := uint64(0)
		if !c.Bool("reset") {
			value, err = loadState(state)
			if err != nil {
				return console.Exit(1, "%v", err)
			}
		}
		ctx, cancel := context.WithTimeout(tsctx.SetVerbose(c.Context, c.Bool("verbose")), 5*time.Second)
		defer cancel()
		data, clock, strobe, release, err := openLines(ctx, c)
		if err != nil {
			return console.Exit(1, "could not open register lines: %v", err)
		}
		defer release()

		arena := shiftreg.NewArena()
		id, err := arena.NewRegister(data, clock, strobe, shiftreg.DMSBits)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		if err := arena.SetValue(id, value); err != nil {
			return console.Exit(1, "could not restore register: %v", err)
		}
		for bit, level := range levels {
			pin, err := arena.Pin(id, bit)
			if err != nil {
				return console.Exit(1, "%v", err)
			}
			if err := pin.Set(level); err != nil {
				return console.Exit(1, "could not set %s: %v", shiftreg.DMSPinName(bit), err)
			}
			console.PInfof(console.PictoPin, "%s %s", console.White(shiftreg.DMSPinName(bit)), console.Level(pin.Readback()))
			pin.Release()
		}
		value, err = arena.Value(id)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		if err := saveState(state, value); err != nil {
			return console.Exit(1, "%v", err)
		}
		return nil
	},
}

var shiftregGetCmd = cli.Command{
	Name:  "get",
	Usage: "show the last value written to the register",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load config: %v", err)
		}
		value, err := loadState(statePath(cfg))
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		console.Printf("register %#04x\n", value)
		for bit := shiftreg.DMSBits - 1; bit >= 0; bit-- {
			console.Printf("  %-9s %s\n", shiftreg.DMSPinName(bit), console.Level(value&(1<<bit) != 0))
		}
		return nil
	},
}

func parseLevels(args []string) (map[int]bool, error) {
	levels := make(map[int]bool, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected <name>=<0|1>, got %q", arg)
		}
		bit, err := shiftreg.ParseDMSPin(strings.ToLower(name))
		if err != nil {
			return nil, err
		}
		level, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid level for %s: %w", name, err)
		}
		levels[bit] = level
	}
	return levels, nil
}

// openLines returns the data, clock and strobe lines. On the expander they
// are bank A bits 0, 1 and 2.
func openLines(ctx context.Context, c *cli.Context) (data, clock, strobe timeswipe.Pin, release func(), err error) {
	switch c.String("lines") {
	case "host":
		var pins [3]timeswipe.Pin
		for i, name := range []string{c.String("data"), c.String("clock"), c.String("strobe")} {
			p, err := gpio.OpenHostPin(name)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			pins[i] = p
		}
		return pins[0], pins[1], pins[2], func() {}, nil
	case "expander":
		bus, closeBus, err := openExpanderBus(c.String("expander-bus"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		exp := gpio.NewMCP23017(bus, byte(c.Uint("expander-address")), gpio.WithRetryLimit(3))
		var pins [3]timeswipe.Pin
		for i := range pins {
			p, err := exp.Pin(ctx, gpio.BankA, i)
			if err != nil {
				closeBus()
				return nil, nil, nil, nil, err
			}
			pins[i] = p
		}
		return pins[0], pins[1], pins[2], closeBus, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown lines %q", c.String("lines"))
	}
}

func openExpanderBus(name string) (timeswipe.I2CBus, func(), error) {
	if name == "mcp2221" {
		a, err := adapter.Open(-1)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	}
	bus, err := i2c.NewGenericBus(name)
	if err != nil {
		return nil, nil, err
	}
	return bus, func() { _ = bus.Close() }, nil
}

// the register cannot be read back, so the last written value is kept next
// to the device lock
func statePath(cfg config.Config) string {
	return filepath.Join(cfg.LockDir, cfg.Device+".dms")
}

func loadState(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read register state: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt register state %s: %w", path, err)
	}
	return v, nil
}

func saveState(path string, value uint64) error {
	err := os.WriteFile(path, []byte(fmt.Sprintf("%#x\n", value)), 0o644)
	if err != nil {
		return fmt.Errorf("could not save register state: %w", err)
	}
	return nil
}
