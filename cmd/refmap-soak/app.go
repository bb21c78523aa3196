package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/llxisdsh/refmap"
	"github.com/llxisdsh/refmap/internal/config"
	"github.com/llxisdsh/refmap/internal/lifecycle"
	"github.com/llxisdsh/refmap/internal/soak"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const shutdownTimeout = 15 * time.Second

func app() *cli.App {
	return &cli.App{
		Name:    "refmap-soak",
		Usage:   "soak test for refmap reference maps",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"REFMAP_CONFIG"},
			},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
			&cli.BoolFlag{Name: "log-json", Usage: "log in JSON"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "listen address for /metrics, empty to disable"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "run time, 0 runs until interrupted"},
			&cli.IntFlag{Name: "identities", Usage: "number of tracked identities"},
			&cli.IntFlag{Name: "writers", Usage: "writer goroutines"},
			&cli.IntFlag{Name: "readers", Usage: "reader goroutines"},
			&cli.Float64Flag{Name: "rate", Usage: "writes per second, 0 for unlimited"},
			&cli.StringFlag{Name: "value-strength", Usage: "strong, weak or soft"},
			&cli.Uint64Flag{Name: "soft-limit", Usage: "heap bytes above which soft values are released"},
			&cli.StringFlag{Name: "snapshot", Usage: "write the final positions to this file"},
		},
		Action: run,
	}
}

// loadConfig loads the file and environment, then applies the flags
// that were set explicitly.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.NewLoader(config.WithConfigFile(c.String("config"))).Load()
	if err != nil {
		return cfg, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-json") {
		cfg.Log.JSON = c.Bool("log-json")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Address = c.String("metrics-addr")
	}
	if c.IsSet("duration") {
		cfg.Soak.Duration = c.Duration("duration")
	}
	if c.IsSet("identities") {
		cfg.Soak.Identities = c.Int("identities")
	}
	if c.IsSet("writers") {
		cfg.Soak.Writers = c.Int("writers")
	}
	if c.IsSet("readers") {
		cfg.Soak.Readers = c.Int("readers")
	}
	if c.IsSet("rate") {
		cfg.Soak.Rate = c.Float64("rate")
	}
	if c.IsSet("value-strength") {
		cfg.Soak.ValueStrength = c.String("value-strength")
	}
	if c.IsSet("soft-limit") {
		cfg.Soak.SoftLimit = c.Uint64("soft-limit")
	}
	if c.IsSet("snapshot") {
		cfg.Soak.Snapshot = c.String("snapshot")
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "refmap-soak",
		Level:      hclog.LevelFromString(cfg.Level),
		JSONFormat: cfg.JSON,
		Output:     os.Stderr,
	})
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	refmap.SetLogger(logger.Named("refmap"))

	tracker := soak.New(cfg.Soak, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mapCollector := refmap.NewCollector("positions", tracker.Positions())
	mapCollector.Add("identities", tracker.Identities())
	registry.MustRegister(mapCollector, refmap.ReclaimCollector)

	mgr := lifecycle.NewManager(logger, shutdownTimeout)
	if cfg.Metrics.Address != "" {
		mgr.Add(metricsServer(cfg.Metrics.Address, registry, logger))
	}
	mgr.Add(tracker)

	ctx := c.Context
	if cfg.Soak.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Soak.Duration)
		defer cancel()
	}
	return mgr.Run(ctx)
}

func metricsServer(addr string, registry *prometheus.Registry, logger hclog.Logger) lifecycle.Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	return lifecycle.Func{
		ServiceName: "metrics",
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("serving metrics", "address", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	}
}
