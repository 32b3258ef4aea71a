package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/timeswipe/board"
	"github.com/mklimuk/timeswipe/cmd/timeswipe/console"
	"github.com/mklimuk/timeswipe/config"
	"github.com/mklimuk/timeswipe/driver"
	"github.com/mklimuk/timeswipe/metrics"
	"github.com/mklimuk/timeswipe/sink"
)

var recordCmd = cli.Command{
	Name:  "record",
	Usage: "acquire samples and route bursts to the configured sinks",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "rate", Usage: "delivered sample rate (1..48000)"},
		&cli.IntFlag{Name: "burst", Usage: "samples per channel per delivery", Value: -1},
		&cli.StringFlag{Name: "mode", Usage: "primary, norm or digital"},
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 runs until interrupted)"},
		&cli.StringFlag{Name: "wav", Usage: "also record into this wav file"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "disable the console sink"},
		&cli.StringFlag{Name: "metrics", Usage: "serve prometheus metrics on this address"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load config: %v", err)
		}
		applyRecordFlags(c, &cfg)
		if err := cfg.Validate(); err != nil {
			return console.Exit(1, "%v", err)
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		m, err := metrics.New(registry)
		if err != nil {
			return console.Exit(1, "%v", err)
		}

		st, err := openStation(c, cfg, driver.WithMetrics(m))
		if err != nil {
			return console.Exit(1, "could not open board: %v", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				slog.Warn("could not close board", "error", err)
			}
		}()
		if err := cfg.Apply(st.ts); err != nil {
			return console.Exit(1, "%v", err)
		}

		sinks, err := openSinks(cfg, st.ts.SampleRate(), m)
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		defer func() {
			if err := sinks.Close(); err != nil {
				slog.Warn("could not close sinks", "error", err)
			}
		}()

		if cfg.Metrics != "" {
			stop := serveMetrics(cfg.Metrics, registry)
			defer stop()
		}

		_ = st.ts.OnButton(func(pressed bool, counter int) {
			console.PInfof(console.PictoButton, "button %s (press %d)", console.Level(pressed), counter)
		})
		_ = st.ts.OnError(func(dropped uint64) {
			slog.Warn("record queue overflow", "dropped", dropped)
		})

		ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if d := c.Duration("duration"); d > 0 {
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if mem, ok := st.board.(*board.Memory); ok {
			go pressOnSignal(ctx, mem)
		}

		if err := st.ts.Start(sinks.Write); err != nil {
			return console.Exit(1, "could not start acquisition: %v", err)
		}
		console.PInfof(console.PictoRecord, "recording at %d Hz, burst %d", st.ts.SampleRate(), st.ts.BurstSize())
		<-ctx.Done()
		if err := st.ts.Stop(); err != nil {
			return console.Exit(1, "could not stop acquisition: %v", err)
		}
		console.PInfof(console.PictoFinish, "done")
		return nil
	},
}

func applyRecordFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("rate") {
		cfg.SampleRate = c.Int("rate")
	}
	if c.IsSet("burst") {
		cfg.BurstSize = c.Int("burst")
	}
	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}
	if c.IsSet("wav") {
		cfg.Sinks.WAV = &config.WAV{Path: c.String("wav")}
	}
	if c.Bool("quiet") {
		cfg.Sinks.Console = false
	}
	if c.IsSet("metrics") {
		cfg.Metrics = c.String("metrics")
	}
}

func openSinks(cfg config.Config, rate int, m *metrics.Metrics) (*sink.Fanout, error) {
	f := sink.NewFanout(m, slog.Default())
	if cfg.Sinks.Console {
		f.Add("console", sink.NewConsole(os.Stdout))
	}
	if w := cfg.Sinks.WAV; w != nil {
		var opts []sink.WAVOpt
		if w.BitDepth != 0 {
			opts = append(opts, sink.WithBitDepth(w.BitDepth))
		}
		if w.Scale != 0 {
			opts = append(opts, sink.WithScale(w.Scale))
		}
		s, err := sink.NewWAV(w.Path, rate, opts...)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.Add("wav", s)
	}
	if q := cfg.Sinks.MQTT; q != nil {
		s, err := sink.NewMQTT(sink.MQTTConfig{
			Server:   q.Server,
			ClientID: q.ClientID,
			Topic:    q.Topic,
			Username: q.Username,
			Password: q.Password,
			Timeout:  q.Timeout,
		})
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.Add("mqtt", s)
	}
	return f, nil
}

func serveMetrics(addr string, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// pressOnSignal lets SIGUSR1 press the simulated board button.
func pressOnSignal(ctx context.Context, mem *board.Memory) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			mem.Press()
		}
	}
}
