package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/gpio"
	"github.com/mklimuk/timeswipe/tsctx"
)

var expanderCmd = cli.Command{
	Name:  "expander",
	Usage: "MCP23017 expander carrying the shift register lines",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "bus", Usage: "i2c bus name, or 'mcp2221'", Value: "1"},
		&cli.UintFlag{Name: "address", Value: gpio.DefaultMCP23017Address},
	},
	Subcommands: cli.Commands{
		&expanderStatusCmd,
		&expanderReadCmd,
		&expanderPullCmd,
	},
}

func withExpander(c *cli.Context, action func(ctx context.Context, exp *gpio.MCP23017) error) error {
	bus, release, err := openExpanderBus(c.String("bus"))
	if err != nil {
		return console.Exit(1, "could not open bus: %v", err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(tsctx.SetVerbose(c.Context, c.Bool("verbose")), 5*time.Second)
	defer cancel()
	return action(ctx, gpio.NewMCP23017(bus, byte(c.Uint("address")), gpio.WithRetryLimit(3)))
}

var expanderStatusCmd = cli.Command{
	Name:  "status",
	Usage: "show the IOCON register",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			data, err := exp.ReadSettings(ctx)
			if err != nil {
				return console.Exit(1, "could not read settings: %v", err)
			}
			console.Printf("IOCON content: %#X\n", data)
			return nil
		})
	},
}

var expanderReadCmd = cli.Command{
	Name:  "read",
	Usage: "read both ports as inputs",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			for _, bank := range []gpio.Bank{gpio.BankA, gpio.BankB} {
				if err := exp.Init(ctx, bank, 0xFF); err != nil {
					return console.Exit(1, "could not initialize gpio: %v", err)
				}
				v, err := exp.ReadPort(ctx, bank)
				if err != nil {
					return console.Exit(1, "could not read gpio %s: %v", bank, err)
				}
				console.Printf("I/O %s: %#X\n", bank, v)
			}
			return nil
		})
	},
}

var expanderPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "set pull-ups of a bank",
	ArgsUsage: "<A|B> <hex mask>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		bank, err := parseBank(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		data, err := hex.DecodeString(c.Args().Get(1))
		if err != nil || len(data) != 1 {
			return console.Exit(1, "could not decode mask %q", c.Args().Get(1))
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			if err := exp.PullUp(ctx, bank, data[0]); err != nil {
				return console.Exit(1, "could not write pull up settings: %v", err)
			}
			console.Printf("Wrote GPPU%s content: %#X\n", bank, data[0])
			return nil
		})
	},
}

func parseBank(s string) (gpio.Bank, error) {
	switch s {
	case "A", "a":
		return gpio.BankA, nil
	case "B", "b":
		return gpio.BankB, nil
	}
	return 0, fmt.Errorf("unknown bank %q", s)
}
