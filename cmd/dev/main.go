package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/timeswipe/cmd/dev/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("dev failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		debug   bool
		noColor bool
	)
	root := &cobra.Command{
		Use:           "dev",
		Short:         "developer tooling for the timeswipe driver",
		Long:          "Builds the timeswipe cli for the host or the Raspberry Pi and runs unit, hardware and lint checks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(newLogger(debug, noColor)))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddGroup(
		&cobra.Group{ID: "build", Title: "Build:"},
		&cobra.Group{ID: "check", Title: "Checks:"},
	)
	for _, c := range []*cobra.Command{cmd.BuildCmd(), cmd.CrossCmd()} {
		c.GroupID = "build"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{cmd.TestCmd(), cmd.IntegrationTestCmd(), cmd.LintCmd()} {
		c.GroupID = "check"
		root.AddCommand(c)
	}
	return root
}

func newLogger(debug, noColor bool) *log.Logger {
	l := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    debug,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "ts-dev",
		Level:           log.InfoLevel,
	})
	if debug {
		l.SetLevel(log.DebugLevel)
	}
	if noColor {
		l.SetColorProfile(termenv.Ascii)
	} else {
		l.SetColorProfile(termenv.TrueColor)
	}
	return l
}
