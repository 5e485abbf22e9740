package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/ble-radar/internal/config"
	devicedomain "github.com/micro-ha/ble-radar/internal/domain/device"
	"github.com/micro-ha/ble-radar/internal/events"
	"github.com/micro-ha/ble-radar/internal/filter"
	"github.com/micro-ha/ble-radar/internal/gatt"
	httpapi "github.com/micro-ha/ble-radar/internal/http"
	"github.com/micro-ha/ble-radar/internal/http/handlers"
	"github.com/micro-ha/ble-radar/internal/ingest"
	"github.com/micro-ha/ble-radar/internal/journal"
	"github.com/micro-ha/ble-radar/internal/location"
	"github.com/micro-ha/ble-radar/internal/metrics"
	"github.com/micro-ha/ble-radar/internal/pipeline"
	"github.com/micro-ha/ble-radar/internal/planner"
	"github.com/micro-ha/ble-radar/internal/radar"
	"github.com/micro-ha/ble-radar/internal/radio"
	"github.com/micro-ha/ble-radar/internal/radio/bluez"
	devicesvc "github.com/micro-ha/ble-radar/internal/services/device"
	"github.com/micro-ha/ble-radar/internal/sig"
	"github.com/micro-ha/ble-radar/internal/storage"
)

type radioDriver interface {
	radio.ScanDriver
	radio.ConnectionDriver
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer repo.Close()

	companies, err := sig.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("load company identifiers: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stats, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	hub := events.NewHub(events.DefaultBuffer, logger)
	reports := journal.New(repo, hub, logger)

	var locations devicedomain.LocationSource = location.None{}
	if cfg.Location != nil {
		locations = location.NewStatic(cfg.Location.Latitude, cfg.Location.Longitude)
	}

	devices := devicesvc.NewWithOptions(
		repo,
		ingest.NewBuilder(ingest.NewDecoder(companies)),
		logger,
		devicesvc.Options{
			KnownDevicePeriod: cfg.KnownDevicePeriod,
			Locations:         locations,
			LocationStore:     repo,
			Observers:         []devicedomain.Observer{hub},
		},
	)

	driver := newDriver(cfg, logger)
	defer driver.CloseAll()

	var (
		scheduler     pipeline.Scheduler
		plannerStatus handlers.PlannerStatus
		deep          *planner.Planner
	)
	if cfg.DeepAnalysis {
		deep = planner.New(cfg.Planner, gatt.NewFetcher(driver, logger), repo, reports, logger)
		deep.SetRecorder(stats)
		scheduler, plannerStatus = deep, deep
	}

	coordinator := radar.New(radar.Deps{
		Profiles:      repo,
		Checker:       filter.NewChecker(repo),
		Reporter:      reports,
		Locations:     locations,
		LocationStore: repo,
		Recorder:      stats,
	}, cfg.RadarWorkers, logger)

	scans := pipeline.New(pipeline.Config{
		ScanInterval: cfg.ScanInterval,
		ScanDuration: cfg.ScanDuration,
		DeepAnalysis: cfg.DeepAnalysis,
	}, radio.NewScanSession(driver, cfg.PowerMode, logger), devices, scheduler, coordinator, logger)
	scans.SetRecorder(stats)

	api := handlers.New(handlers.Deps{
		Devices:  devices,
		Profiles: repo,
		Journal:  reports,
		Scanner:  scans,
		Planner:  plannerStatus,
		Events:   hub,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		scans.Run(ctx)
	}()
	scans.TriggerScan()

	logger.Info("server starting", "addr", httpServer.Addr, "radio", cfg.Radio, "deep_analysis", cfg.DeepAnalysis)
	err = httpapi.RunServer(ctx, httpServer)

	cancel()
	<-pipelineDone
	if deep != nil {
		deep.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newDriver(cfg config.Config, logger *slog.Logger) radioDriver {
	if cfg.Radio == config.RadioNone {
		logger.Warn("radio disabled by configuration")
		return radio.Disabled{}
	}
	return bluez.New(logger.With("component", "bluez"))
}
