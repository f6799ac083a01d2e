package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/cli/config"
	"github.com/pithecene-io/dispipe/cli/tui"
	"github.com/pithecene-io/dispipe/iox"
	"github.com/pithecene-io/dispipe/metrics"
	"github.com/pithecene-io/dispipe/pipe"
	"github.com/pithecene-io/dispipe/runtime"
	"github.com/pithecene-io/dispipe/server"
	"github.com/pithecene-io/dispipe/telemetry"
	"github.com/pithecene-io/dispipe/types"
)

// tracingShutdownTimeout bounds the final span flush.
const tracingShutdownTimeout = 5 * time.Second

// RunCommand returns the run command.
// It relays until SIGINT or SIGTERM, or until the TUI is closed.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Relay lines written to the configured pipes",
		Flags: []cli.Flag{
			ConfigFlag,
			DryRunFlag,
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show a live feed of relay events",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Append logs to this file (TUI mode discards logs otherwise)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /healthz, /status and /metrics on this address (overrides DISPIPE_METRICS_ADDR)",
			},
			&cli.DurationFlag{
				Name:  "grace",
				Usage: "How long shutdown waits for workers (overrides the config file)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Do not echo relayed lines to stdout",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	tuiMode := c.Bool("tui")
	logOut := stderr(c)
	if tuiMode {
		logOut = io.Discard
	}
	if path := c.String("log-file"); path != "" {
		f, openErr := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if openErr != nil {
			return cli.Exit(fmt.Sprintf("open log file: %v", openErr), ExitConfig)
		}
		defer iox.CloseInto(f, &err)
		logOut = f
	}
	logger, err := newLogger(cfg.env, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	fingerprint, fpErr := config.Fingerprint(cfg.path)
	if fpErr != nil {
		logger.Warn("config fingerprint unavailable", map[string]any{"error": fpErr.Error()})
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Endpoint:       cfg.env.OTelEndpoint,
		Insecure:       cfg.env.OTelInsecure,
		ServiceName:    types.ServiceName,
		ServiceVersion: types.Version,
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", map[string]any{"error": err.Error()})
		}
	}()

	dryRun := c.Bool("dry-run")
	inner, err := buildSink(cfg.file.Sink, logger, dryRun)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}
	collector := metrics.NewCollector(adapter.NameOf(inner))
	sink := adapter.Instrument(inner, collector)

	grace := cfg.file.Grace.Duration
	if c.IsSet("grace") {
		grace = c.Duration("grace")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *server.Server
	serverDone := make(chan struct{})
	metricsAddr := cfg.env.MetricsAddr
	if c.IsSet("metrics-addr") {
		metricsAddr = c.String("metrics-addr")
	}
	if metricsAddr != "" {
		srv = server.New(metricsAddr, collector, logger)
		go func() {
			defer close(serverDone)
			if err := srv.Run(runCtx); err != nil {
				logger.Error("ops server failed", map[string]any{"error": err.Error()})
			}
		}()
	} else {
		close(serverDone)
	}

	supCfg := runtime.SupervisorConfig{
		Config:      cfg.model,
		Sink:        sink,
		Logger:      logger,
		Collector:   collector,
		SendTimeout: cfg.file.SendTimeout.Duration,
		Grace:       grace,
		OnReady: func(results []pipe.Result) {
			if srv != nil {
				srv.SetReady(true)
			}
			logger.Info("relay started", map[string]any{
				"config":      cfg.path,
				"fingerprint": fingerprint,
				"sink":        adapter.NameOf(inner),
				"pipes":       len(results),
			})
		},
	}
	if !tuiMode && !c.Bool("quiet") {
		supCfg.Echo = stdout(c)
	}

	var relayErr error
	if tuiMode {
		feed := tui.NewFeed(cfg.model.Mappings, 0, tea.WithContext(runCtx))
		supCfg.Recorder = feed
		sup := runtime.NewSupervisor(supCfg)

		done := make(chan error, 1)
		go func() {
			err := sup.Run(runCtx)
			feed.Stop(err)
			done <- err
		}()
		if err := feed.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Warn("tui stopped", map[string]any{"error": err.Error()})
		}
		cancel()
		relayErr = <-done
	} else {
		relayErr = runtime.NewSupervisor(supCfg).Run(runCtx)
	}

	cancel()
	<-serverDone

	if relayErr != nil {
		logger.Error("relay stopped", map[string]any{"error": relayErr.Error()})
	} else {
		logger.Info("relay stopped", nil)
	}
	return exitErr(relayErr)
}
