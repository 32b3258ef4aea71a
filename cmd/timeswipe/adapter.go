package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/timeswipe/adapter"
	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/tsctx"
)

var adapterCmd = cli.Command{
	Name:  "adapter",
	Usage: "MCP2221 USB to I2C bridge utilities",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "index", Usage: "bridge index from 'adapter ls'; -1 picks the only one", Value: -1},
	},
	Subcommands: cli.Commands{
		&adapterLsCmd,
		&adapterStatusCmd,
		&adapterReleaseCmd,
	},
}

var adapterLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list attached bridges",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "all", Usage: "list every HID device"},
	},
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		if c.Bool("all") {
			_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
			for _, dev := range hid.Enumerate(0, 0) {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
					dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
			}
			return w.Flush()
		}
		_, _ = fmt.Fprintf(w, "INDEX\tPATH\tSERIAL\tPRODUCT\n")
		for _, d := range adapter.List() {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, d.Path, d.Serial, d.Product)
		}
		return w.Flush()
	},
}

var adapterStatusCmd = cli.Command{
	Name:  "status",
	Usage: "show the bridge status",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			return a.Status(ctx)
		})
	},
}

var adapterReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel a stuck I2C transfer",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			return a.ReleaseBus(ctx)
		})
	},
}

func withAdapter(c *cli.Context, action func(context.Context, *adapter.MCP2221) (any, error)) error {
	a, err := adapter.Open(c.Int("index"))
	if err != nil {
		return console.Exit(1, "could not open adapter: %v", err)
	}
	defer func() { _ = a.Close() }()
	ctx := tsctx.SetVerbose(c.Context, c.Bool("verbose"))
	status, err := action(ctx, a)
	if err != nil {
		return console.Exit(1, "adapter communication error: %v", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %v", err)
	}
	return nil
}
