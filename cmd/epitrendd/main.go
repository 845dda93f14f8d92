package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epitrend/epitrend/pkg/api"
	"github.com/epitrend/epitrend/pkg/archive"
	"github.com/epitrend/epitrend/pkg/config"
	"github.com/epitrend/epitrend/pkg/forecast"
	"github.com/epitrend/epitrend/pkg/logx"
	"github.com/epitrend/epitrend/pkg/metrics"
	"github.com/epitrend/epitrend/pkg/mqtt"
	"github.com/epitrend/epitrend/pkg/series"
)

const (
	version = "1.0.0-dev"
	appName = "epitrendd"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/epitrend/epitrend.json", "Config file path")
		logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}

	logger := logx.New(effectiveLogLevel)
	logger.Info("starting epitrend daemon",
		"version", version,
		"config", *configFile,
		"log_level", effectiveLogLevel,
	)

	if cfg.EventsFile == "" {
		logger.Error("no events_file configured")
		os.Exit(1)
	}
	events, err := series.LoadCSV(cfg.EventsFile)
	if err != nil {
		logger.Error("failed to load event snapshot", "error", err, "path", cfg.EventsFile)
		os.Exit(1)
	}
	logger.Info("event snapshot loaded", "events", len(events), "path", cfg.EventsFile)

	store, err := archive.Open(cfg.ArchivePath, logger)
	if err != nil {
		logger.Error("failed to open forecast archive", "error", err, "path", cfg.ArchivePath)
		os.Exit(1)
	}
	defer store.Close()

	var recorder forecast.Recorder
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, logger)
		recorder = metricsSrv
		go func() {
			if err := metricsSrv.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	publisher := mqtt.NewPublisher(cfg.MQTT, logger)
	if err := publisher.Connect(); err != nil {
		// the broker is optional infrastructure, keep serving without it
		logger.Warn("MQTT connect failed, continuing without publisher", "error", err)
		publisher = nil
	}
	if publisher != nil {
		defer publisher.Disconnect()
	}

	engine := forecast.NewEngine(cfg.EngineConfig(), logger, recorder)
	apiSrv := api.NewServer(cfg.ListenAddr, engine, events, store, publisher, logger)
	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("epitrend daemon started",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"backends", len(engine.Available()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Stop(ctx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(ctx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}
	logger.Info("epitrend daemon stopped")
}
