package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	grpcsvc "github.com/johnywakim02/remote-stream/internal/grpc"
	"github.com/johnywakim02/remote-stream/internal/health"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/recording"
	"github.com/johnywakim02/remote-stream/internal/service"
	"github.com/johnywakim02/remote-stream/internal/state"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
	"github.com/johnywakim02/remote-stream/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath   string
		estimateOnly bool
		showVersion  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.BoolVar(&estimateOnly, "estimate", false, "Print storage estimates for the discovered cameras and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("remote-stream %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return
	}

	// Load configuration (.env, YAML, environment overrides)
	cfgSvc, err := config.NewService(configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)
	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if newCfg.Log.Level == oldCfg.Log.Level {
			return nil
		}
		return log.SetLevel(newCfg.Log.Level)
	})

	log.Info("Starting remote-stream",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"backend", cfg.Cameras.Backend,
		"wanted_devices", cfg.Cameras.WantedCount,
	)

	if err := run(cfgSvc, log, estimateOnly); err != nil {
		log.Error("Exiting", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfgSvc *config.Service, log *logger.Logger, estimateOnly bool) error {
	cfg := cfgSvc.Get()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State database is optional; everything works without it
	var (
		stateMgr    *state.Manager
		deviceStore camera.DeviceStore
		catalog     storage.Catalog
		pinger      health.Pinger
	)
	if cfg.State.Enabled {
		mgr, err := state.NewManager(cfg.State, log)
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		defer mgr.Close()
		stateMgr = mgr
		deviceStore, catalog, pinger = mgr, mgr, mgr

		if recovered, err := mgr.RecoverState(ctx); err != nil {
			log.Warn("Failed to recover state", "error", err)
		} else {
			log.Info("Recovered state",
				"known_cameras", len(recovered.Cameras),
				"snapshots", recovered.Recordings.Snapshots,
				"segments", recovered.Recordings.Segments,
			)
		}
	}

	svcMgr := service.NewManager(log)

	opener, err := camera.NewOpener(cfg.Cameras, log)
	if err != nil {
		return err
	}
	camMgr := camera.NewManager(cfg.Cameras, opener, deviceStore, log)
	svcMgr.Register(camMgr)

	if err := camMgr.Prepare(ctx); err != nil {
		var shortfall *camera.NotEnoughDevicesError
		if errors.As(err, &shortfall) {
			log.Error("Not enough cameras",
				"found", shortfall.Found,
				"wanted", shortfall.Wanted,
				"missing", shortfall.Shortfall(),
			)
		}
		return fmt.Errorf("camera discovery failed: %w", err)
	}

	var segments video.SegmentWriterFactory
	if ff, err := video.NewFFmpegWrapper(log); err != nil {
		log.Warn("Video recording disabled", "error", err)
	} else {
		segments = video.NewFFmpegSegmentFactory(ff, cfg.Recording.VideoCodec, log)
	}

	store, err := storage.NewStore(storage.StoreConfig{
		Layout: storage.Layout{
			ImageFolder: cfg.Recording.ImageFolder,
			VideoFolder: cfg.Recording.VideoFolder,
		},
		RetentionDays:       cfg.Recording.RetentionDays,
		MaxDiskUsagePercent: cfg.Recording.MaxDiskUsagePercent,
		Catalog:             catalog,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if estimateOnly || cfg.Recording.EstimateOnStart {
		estimates := estimate(ctx, cfg, camMgr, segments, log)
		if estimateOnly {
			camMgr.StopAll()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(estimates)
		}
	}

	recorder := recording.NewScheduler(cfg.Recording, camMgr, store, segments, log)
	svcMgr.Register(recorder)

	svcMgr.Register(grpcsvc.NewHealthService(&cfg.GRPC, camMgr, log))

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewCameraChecker(camMgr))
	healthMgr.RegisterChecker(health.NewStorageChecker(store.Layout(), store.DiskMonitor()))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(pinger))

	webServer, err := web.NewServer(&cfg.Web, log)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	webServer.SetVersion(version)
	webServer.SetDependencies(camMgr, store, healthMgr)
	svcMgr.Register(webServer)

	if err := svcMgr.Start(ctx); err != nil {
		camMgr.StopAll()
		return fmt.Errorf("failed to start services: %w", err)
	}

	if stateMgr != nil {
		if err := stateMgr.SaveSystemState(ctx, "last_start", time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Warn("Failed to save start time", "error", err)
		}
	}

	// SIGHUP reloads the configuration; only the log level applies live
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			log.Info("Received shutdown signal", "signal", sig)
			break
		}
		if err := cfgSvc.Reload(ctx); err != nil {
			log.Warn("Configuration reload failed", "error", err)
		}
	}

	// Release the devices first so producers stop before consumers drain
	if err := camMgr.StopAll(); err != nil {
		log.Warn("Error stopping cameras", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

// estimate projects hourly storage per camera before capture starts
func estimate(ctx context.Context, cfg *config.Config, camMgr *camera.Manager, segments video.SegmentWriterFactory, log *logger.Logger) []storage.StorageEstimate {
	estimator := storage.NewEstimator(storage.EstimatorConfig{
		SaveIntervalSeconds: cfg.Recording.SaveIntervalSeconds,
		RecordingFPS:        cfg.Recording.RecordingFPS,
		JPEGQuality:         cfg.Cameras.JPEGQuality,
	}, segments, log)

	lookup := func(index int) (storage.FrameCapturer, error) {
		owner, err := camMgr.Owner(index)
		if err != nil {
			return nil, err
		}
		return owner, nil
	}

	estimates := estimator.EstimateAll(ctx, camMgr.Indices(), lookup, cfg.Recording.EstimateDuration)

	var total float64
	for _, est := range estimates {
		total += est.ProjectedMBPerHour
	}
	log.Info("Storage estimate", "estimates", len(estimates), "total_mb_per_hour", fmt.Sprintf("%.2f", total))
	return estimates
}
