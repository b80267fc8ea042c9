// Command runtime-core runs one production: it loads a YAML config
// (spec §6.2), deploys the configured items, and serves the metrics and
// control-plane HTTP endpoints until told to stop. Grounded on the
// teacher's cmd/main.go (flag/env-driven config path resolution, signal
// handling) and internal/app.App.Run's component wiring order, generalized
// from the teacher's fixed monitors->dispatcher->sinks pipeline to the
// production engine's dynamically deployed hosts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/config"
	"github.com/hie-engine/runtime-core/internal/metrics"
	"github.com/hie-engine/runtime-core/internal/production"
	"github.com/hie-engine/runtime-core/pkg/cleanup"
	"github.com/hie-engine/runtime-core/pkg/dlq"
	"github.com/hie-engine/runtime-core/pkg/monitoring"
	"github.com/hie-engine/runtime-core/pkg/persistence"
	"github.com/hie-engine/runtime-core/pkg/tracing"
	"github.com/hie-engine/runtime-core/pkg/types"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to the production YAML config file")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("HIE_ENGINE_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/hie-engine/production.yaml"
		}
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.WithField("config_file", configFile).Info("starting production")

	if err := run(configFile, logger); err != nil {
		logger.WithError(err).Fatal("production exited with error")
	}
}

func run(configFile string, logger *logrus.Logger) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracingManager, err := tracing.NewManager(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SamplerRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("build tracing manager: %w", err)
	}

	var deadLetters *dlq.Sink
	if cfg.DeadLetters.Enabled {
		deadLetters = dlq.NewSink("dead-letters", dlq.Config{
			Enabled:       true,
			Directory:     cfg.DeadLetters.Directory,
			QueueSize:     cfg.DeadLetters.QueueSize,
			MaxFileSize:   cfg.DeadLetters.MaxFileSizeMB,
			FlushInterval: cfg.DeadLetters.FlushInterval,
		}, logger)
		if err := deadLetters.Start(context.Background()); err != nil {
			return fmt.Errorf("start dead-letter sink: %w", err)
		}
		defer deadLetters.Stop(context.Background())
	}

	rules := production.NewRuleRegistry()
	// Callers embedding this engine register their business rules here
	// before Deploy; this binary has none built in (spec §4.4.2: the rule
	// engine is external).

	engine := production.NewEngineWithDeadLetters(nil, rules, nil, deadLetters, logger)
	engine.AttachTracing(tracingManager)

	if cfg.Persistence.Enabled {
		store := persistence.NewStore(persistence.Config{
			Enabled:   true,
			Directory: cfg.Persistence.Directory,
		}, logger)
		engine.AttachPersistence(store)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Deploy(ctx, cfg); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer engine.Stop(context.Background())

	if cfg.HotReload.Enabled {
		reloader, err := engine.AttachHotReload(cfg.HotReload, configFile)
		if err != nil {
			return fmt.Errorf("attach hot reload: %w", err)
		}
		defer reloader.Stop()
	}

	metricsServer := metrics.NewMetricsServer(fmt.Sprintf(":%d", cfg.Metrics.Port), logger)
	if cfg.Metrics.Enabled {
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer metricsServer.Stop()
	}

	controlPlane := production.NewControlPlane(engine, fmt.Sprintf(":%d", cfg.Control.Port), logger, tracingManager)

	if cfg.Monitoring.Enabled {
		resourceMonitor := monitoring.NewResourceMonitor(monitoring.Config{
			Enabled:             true,
			CheckInterval:       cfg.Monitoring.CheckInterval,
			GoroutineThreshold:  cfg.Monitoring.GoroutineThreshold,
			MemoryThresholdMB:   cfg.Monitoring.MemoryThresholdMB,
			FDThreshold:         cfg.Monitoring.FDThreshold,
			GrowthRateThreshold: cfg.Monitoring.GrowthRateThreshold,
			AlertWebhookURL:     cfg.Monitoring.AlertWebhookURL,
			AlertOnThreshold:    cfg.Monitoring.AlertOnThreshold,
		}, logger)
		if err := resourceMonitor.Start(); err != nil {
			return fmt.Errorf("start resource monitor: %w", err)
		}
		defer resourceMonitor.Stop()
		controlPlane.AttachResourceMonitor(resourceMonitor)
	}

	if cfg.Cleanup.Enabled {
		diskManager := cleanup.NewDiskSpaceManager(cleanup.Config{
			CheckInterval:          cfg.Cleanup.CheckInterval,
			CriticalSpaceThreshold: cfg.Cleanup.CriticalSpaceThreshold,
			WarningSpaceThreshold:  cfg.Cleanup.WarningSpaceThreshold,
			Directories:            cleanupDirectories(cfg),
		}, logger)
		if err := diskManager.Start(); err != nil {
			return fmt.Errorf("start disk space manager: %w", err)
		}
		defer diskManager.Stop()
		controlPlane.AttachDiskSpaceManager(diskManager)
	}

	if cfg.Control.Enabled {
		controlPlane.Start()
		defer controlPlane.Stop(context.Background())
	}

	logger.Info("production running")
	waitForShutdown(logger)
	logger.Info("shutting down")
	return nil
}

// cleanupDirectories derives one DirectoryConfig per distinct file-adapter
// archive/error/work path across the deployed items, plus any directories
// named explicitly in CleanupConfig. A File adapter (internal/adapter/fileio)
// moves whole files into these directories and never removes them itself
// (spec §4.1), so without this they grow for the lifetime of the process.
func cleanupDirectories(cfg *types.ProductionConfig) []cleanup.DirectoryConfig {
	seen := make(map[string]bool)
	var dirs []cleanup.DirectoryConfig

	addPath := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		dirs = append(dirs, cleanup.DirectoryConfig{
			Path:          path,
			RetentionDays: 30,
			MaxFiles:      10000,
		})
	}

	for _, item := range cfg.Items {
		if item.Adapter.Kind != "file" {
			continue
		}
		addPath(item.Adapter.ArchivePath)
		addPath(item.Adapter.ErrorPath)
		addPath(item.Adapter.WorkPath)
	}

	for _, extra := range cfg.Cleanup.Directories {
		if seen[extra.Path] {
			continue
		}
		seen[extra.Path] = true
		dirs = append(dirs, cleanup.DirectoryConfig{
			Path:              extra.Path,
			MaxSizeMB:         extra.MaxSizeMB,
			RetentionDays:     extra.RetentionDays,
			FilePatterns:      extra.FilePatterns,
			MaxFiles:          extra.MaxFiles,
			CleanupAgeSeconds: extra.CleanupAgeSeconds,
		})
	}

	return dirs
}

func waitForShutdown(logger *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("received shutdown signal")
	// Give in-flight work a moment to settle before the deferred
	// component Stop calls run in main's unwind.
	time.Sleep(100 * time.Millisecond)
}
