package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/kvmirror/internal/infra/buildinfo"
	"github.com/yndnr/kvmirror/internal/infra/confloader"
	"github.com/yndnr/kvmirror/internal/infra/shutdown"
	"github.com/yndnr/kvmirror/internal/server/config"
	"github.com/yndnr/kvmirror/internal/server/workerserver"
	"github.com/yndnr/kvmirror/internal/storage"
	"github.com/yndnr/kvmirror/internal/telemetry/logger"
	"github.com/yndnr/kvmirror/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", os.Getenv("KVMIRROR_CONFIG"), "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvmirror-worker %s\n", buildinfo.String())
		return nil
	}

	loader := confloader.NewLoader(confloader.WithConfigFile(*configFile))
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sl, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(sl)

	info := buildinfo.Get()
	sl.Info("starting kvmirror-worker",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"socket", cfg.Worker.Socket,
		"engine", cfg.Storage.Engine)

	reg := metric.NewRegistry()
	engine := storage.NewEngine(cfg.KVConfig(), sl, storage.WithMetrics(reg.Registerer()))
	reg.Registerer().MustRegister(metric.NewStoreCollector(engine, cfg.Storage.Engine))

	worker := workerserver.NewWorker(cfg.WorkerConfig(), engine, sl, workerserver.WithMetrics(reg))

	ctx := context.Background()
	if cfg.Storage.Enabled {
		if err := worker.Open(ctx); err != nil {
			_ = worker.Close()
			return fmt.Errorf("open store: %w", err)
		}
	}

	srv := workerserver.NewServer(worker, cfg.Worker.Socket, sl)
	if err := srv.Listen(); err != nil {
		_ = worker.Close()
		return err
	}

	shutdownHandler := shutdown.NewHandler(shutdown.DefaultTimeout, sl)

	// Hooks run in reverse: socket first, store last.
	shutdownHandler.OnShutdown("store", func(context.Context) error {
		return worker.Close()
	})

	var metricsSrv *metric.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = metric.NewServer(cfg.Metrics.Addr, reg, sl)
		shutdownHandler.OnShutdown("metrics", metricsSrv.Shutdown)
	}

	shutdownHandler.OnShutdown("worker", srv.Shutdown)

	if watcher, err := watchConfig(loader, sl); err != nil {
		sl.Warn("config watcher disabled", "error", err)
	} else if watcher != nil {
		shutdownHandler.OnShutdown("config-watcher", func(context.Context) error {
			return watcher.Stop()
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if metricsSrv != nil {
		g.Go(metricsSrv.ListenAndServe)
	}
	g.Go(func() error {
		return shutdownHandler.Wait(gctx)
	})

	sl.Info("worker started, press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		sl.Error("worker stopped with error", "error", err)
		return err
	}

	sl.Info("worker stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(loader *confloader.Loader) (*config.Config, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchConfig reapplies log.level whenever the configuration file changes.
// The other settings need a restart.
func watchConfig(loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	path := loader.FilePath()
	if path == "" {
		return nil, nil
	}

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(path); err != nil {
		watcher.Stop()
		return nil, err
	}

	watcher.OnChange(func(string) {
		cfg, err := loadConfig(loader)
		if err != nil {
			log.Warn("configuration reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.Level() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	watcher.StartAsync()
	return watcher, nil
}
