package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/driver"
)

var settingsCmd = cli.Command{
	Name:  "settings",
	Usage: "read and write board settings",
	Subcommands: cli.Commands{
		&settingsGetCmd,
		&settingsSetCmd,
		&settingsShellCmd,
	},
}

var settingsGetCmd = cli.Command{
	Name:      "get",
	Usage:     "read settings named by the object keys, e.g. '{\"Mode\":null}'",
	ArgsUsage: "<request>",
	Action: func(c *cli.Context) error {
		return settingsOnce(c, false)
	},
}

var settingsSetCmd = cli.Command{
	Name:      "set",
	Usage:     "write settings, e.g. '{\"Mode\":1}'",
	ArgsUsage: "<request>",
	Action: func(c *cli.Context) error {
		return settingsOnce(c, true)
	},
}

func settingsOnce(c *cli.Context, set bool) error {
	if c.NArg() != 1 {
		return console.Exit(1, "expected 1 argument, got %d", c.NArg())
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return console.Exit(1, "could not load config: %v", err)
	}
	st, err := openStation(c, cfg)
	if err != nil {
		return console.Exit(1, "could not open board: %v", err)
	}
	defer func() { _ = st.Close() }()
	resp, err := exchange(commandContext(c, cfg), st.ts, set, c.Args().First())
	if err != nil {
		return console.Exit(1, "%v", err)
	}
	console.Print(resp)
	return nil
}

var settingsShellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive settings session ('get <request>', 'set <request>', 'exit')",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load config: %v", err)
		}
		st, err := openStation(c, cfg)
		if err != nil {
			return console.Exit(1, "could not open board: %v", err)
		}
		defer func() { _ = st.Close() }()
		ctx := commandContext(c, cfg)
		history := ""
		if home, err := os.UserHomeDir(); err == nil {
			history = filepath.Join(home, ".timeswipe_history")
		}
		return console.Shell(console.Bold("timeswipe> "), history, func(line string) (string, error) {
			verb, req, _ := strings.Cut(line, " ")
			switch verb {
			case "get":
				return exchange(ctx, st.ts, false, req)
			case "set":
				return exchange(ctx, st.ts, true, req)
			default:
				return "", fmt.Errorf("unknown command %q (use get, set or exit)", verb)
			}
		})
	},
}

func exchange(ctx context.Context, ts *driver.TimeSwipe, set bool, req string) (string, error) {
	req = strings.TrimSpace(req)
	if req == "" {
		return "", fmt.Errorf("empty request")
	}
	if set {
		return ts.SetSettings(ctx, req)
	}
	return ts.GetSettings(ctx, req)
}
