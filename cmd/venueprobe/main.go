package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mExOms/venueprobe/internal/config"
	"github.com/mExOms/venueprobe/internal/exchange"
	"github.com/mExOms/venueprobe/internal/monitor"
	"github.com/mExOms/venueprobe/internal/scheduler"
	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/nats"
)

const (
	exitOK      = 0
	exitNoVenue = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	logging, err := monitor.SetupLogging(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "logging setup failed: %v\n", err)
		return exitConfig
	}
	defer logging.Close()
	logger := logrus.WithField("component", "main")
	if logging.Path() != "" {
		logger.WithField("path", logging.Path()).Info("Writing log stream")
	}

	metrics := monitor.NewMetrics()
	sinks := []events.Sink{monitor.LogSink(logrus.WithField("component", "events")), metrics}
	if cfg.NATS.URL != "" {
		pub, err := nats.NewPublisher(natsConfig(cfg.NATS))
		if err != nil {
			logger.WithError(err).Warn("NATS event fan-out disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}
	sink := events.Multi(sinks...)

	factory := exchange.NewFactory(cfg, sink)
	manager := exchange.NewManager()
	for _, a := range factory.CreateAdapters() {
		if err := manager.AddAdapter(a); err != nil {
			logger.WithError(err).Warn("Skipping adapter")
		}
	}
	if len(manager.Adapters()) == 0 {
		logger.Error("No venues configured: set API credentials for at least one venue")
		return exitNoVenue
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.CallTimeout*3)
	failed := manager.StartAll(startCtx)
	cancelStart()
	for name, err := range failed {
		logger.WithError(err).WithField("venue", name).Error("Venue initialization failed")
	}
	adapters := manager.Adapters()
	if len(adapters) == 0 {
		logger.Error("Every venue failed to initialize")
		return exitNoVenue
	}
	ready := logger.WithField("venues", manager.ListAdapters())
	for name, st := range manager.ConnectionStates() {
		ready = ready.WithField(name, st.String())
	}
	ready.Info("Venues ready")

	sched := scheduler.New(cfg.Scheduler, adapters)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			logger.Info("Interrupt received, stopping after the probe in flight")
			sched.Stop()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var status *monitor.StatusServer
	if cfg.StatusAddr != "" {
		status = monitor.NewStatusServer(adapters, metrics)
		if _, err := status.Start(cfg.StatusAddr); err != nil {
			logger.WithError(err).Warn("Status server disabled")
			status = nil
		}
	}

	if cfg.ReportSchedule != "" {
		reporter, err := monitor.NewReporter(cfg.ReportSchedule, adapters)
		if err != nil {
			logger.WithError(err).Warn("Periodic report disabled")
		} else {
			reporter.Start()
			defer reporter.Stop(context.Background())
		}
	}

	table := monitor.NewTable(stdout, adapters, cfg.NoFlicker, sched.Iterations)
	tableDone := make(chan struct{})
	go func() {
		defer close(tableDone)
		table.Run(ctx)
	}()

	started := time.Now()
	res := sched.Run(ctx)
	cancel()
	<-tableDone

	if status != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Status server shutdown failed")
		}
		cancelShutdown()
	}

	if err := monitor.WriteSummary(stdout, adapters, time.Since(started), res.Iterations, res.Stranded); err != nil {
		logger.WithError(err).Warn("Failed to write summary")
	}
	return exitOK
}

func natsConfig(c config.NATSConfig) *nats.Config {
	nc := &nats.Config{URL: c.URL, ClientID: c.ClientID, Prefix: c.Prefix}
	if c.Stream != "" {
		nc.Stream = &nats.StreamConfig{Name: c.Stream, MaxAge: c.MaxAge}
	}
	return nc
}
