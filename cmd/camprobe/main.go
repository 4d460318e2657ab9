package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/johnywakim02/remote-stream/internal/camera"
	"github.com/johnywakim02/remote-stream/internal/config"
	"github.com/johnywakim02/remote-stream/internal/logger"
	"github.com/johnywakim02/remote-stream/internal/storage"
	"github.com/johnywakim02/remote-stream/internal/video"
)

func main() {
	var (
		configPath string
		wanted     int
		duration   time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.IntVar(&wanted, "wanted", 0, "Override the wanted device count")
	flag.DurationVar(&duration, "duration", 3*time.Second, "Video sample length per camera (0 skips video)")
	flag.Parse()

	fmt.Println("=== Camera Probe ===")
	fmt.Println()

	log, err := logger.New(logger.LogConfig{
		Level:  "warn",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if wanted > 0 {
		cfg.Cameras.WantedCount = wanted
	}

	if cfg.Cameras.Backend == config.BackendV4L2 {
		nodes, err := camera.ListVideoNodes(cfg.Cameras.DeviceDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list video devices: %v\n", err)
		}
		fmt.Printf("Video nodes in %s: %d\n", cfg.Cameras.DeviceDir, len(nodes))
		for _, node := range nodes {
			fmt.Printf("  %-14s index %-3d %s\n", node.Path, node.Index, node.Name)
		}
		fmt.Println()
	}

	opener, err := camera.NewOpener(cfg.Cameras, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create opener: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	camMgr := camera.NewManager(cfg.Cameras, opener, nil, log)
	fmt.Printf("Probing indices 0..%d for %d %s camera(s)...\n", cfg.Cameras.MaxProbeIndex-1, cfg.Cameras.WantedCount, opener.Backend())
	if err := camMgr.Prepare(ctx); err != nil {
		var shortfall *camera.NotEnoughDevicesError
		if errors.As(err, &shortfall) {
			fmt.Printf("Found %d of %d wanted camera(s)\n", shortfall.Found, shortfall.Wanted)
			fmt.Println()
			fmt.Println("Possible reasons:")
			fmt.Println("  - Camera not connected or busy in another process")
			fmt.Println("  - Insufficient permissions on /dev/video*")
			fmt.Println("  - max_probe_index too small")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		os.Exit(1)
	}
	defer camMgr.StopAll()

	fmt.Println()
	fmt.Println("=== Devices ===")
	for _, dev := range camMgr.Devices() {
		fmt.Printf("  %-10s index %-3d backend %s\n", dev.Label, dev.Index, dev.Backend)
	}

	var segments video.SegmentWriterFactory
	if ff, err := video.NewFFmpegWrapper(log); err != nil {
		fmt.Printf("\nffmpeg not available, skipping video estimates: %v\n", err)
		duration = 0
	} else {
		segments = video.NewFFmpegSegmentFactory(ff, cfg.Recording.VideoCodec, log)
	}

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

	fmt.Println()
	fmt.Println("=== Storage Estimates ===")
	fmt.Printf("  snapshot every %ds, video at %d fps\n\n", cfg.Recording.SaveIntervalSeconds, cfg.Recording.RecordingFPS)

	var total float64
	for _, est := range estimator.EstimateAll(ctx, camMgr.Indices(), lookup, duration) {
		fmt.Printf("  camera %-3d %-5s %10d bytes/unit  %8.1f units/h  %10.2f MB/h\n",
			est.DeviceIndex, est.Kind, est.BytesPerUnit, est.UnitsPerHour, est.ProjectedMBPerHour)
		total += est.ProjectedMBPerHour
	}
	fmt.Println()
	fmt.Printf("Total: %.2f MB/hour, %.2f GB/day\n", total, total*24/1024)
}
