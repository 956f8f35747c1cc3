// camsense-probe lists capture devices, checks access to the configured one
// and runs a single detection pass on one captured frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vzahanych/camsense/internal/camera"
	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/inference/tflite"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/permission"
	"github.com/vzahanych/camsense/internal/preprocess"
	"github.com/vzahanych/camsense/internal/presenter"
)

func main() {
	var configPath string
	var detect bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&detect, "detect", true, "Capture one frame and run the model on it")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{Level: "warn", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Println("=== Capture devices ===")
	devices, err := camera.Discover("/dev", "/sys/class/video4linux")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
	}
	if len(devices) == 0 {
		fmt.Println("No video devices found")
		fmt.Println("  ls -l /dev/video*")
		fmt.Println("  v4l2-ctl --list-devices")
	}
	for _, d := range devices {
		fmt.Printf("  %-14s %s", d.Path, d.Name)
		if d.Vendor != "" {
			fmt.Printf(" [%s:%s]", d.Vendor, d.Product)
		}
		fmt.Println()
	}
	fmt.Println()

	auth := permission.NewDeviceAuthorizer(cfg.Camera.Device, 0, 0, log)
	if node := auth.Node(); node != "" {
		if auth.Granted(permission.PermissionCamera) {
			fmt.Printf("Access to %s: ok\n", node)
		} else {
			fmt.Printf("Access to %s: denied (check the video group or udev rules)\n", node)
			os.Exit(2)
		}
	}

	if !detect {
		return
	}

	labels, err := inference.LoadLabels(cfg.Model.LabelsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	engine, err := tflite.New(tflite.Config{
		ModelPath:   cfg.Model.Path,
		Delegate:    cfg.Model.Delegate,
		NumThreads:  cfg.Model.NumThreads,
		Labels:      labels,
		LabelOffset: cfg.Model.Offset(),
		ObjectCount: cfg.Model.ObjectCount,
		Mean:        cfg.Preprocess.Mean,
		Std:         cfg.Preprocess.Std,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer engine.Close()
	fmt.Printf("Model %s on %s\n", cfg.Model.Path, engine.Delegate())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	src := camera.New(camera.Config{
		Device:          cfg.Camera.Device,
		Width:           cfg.Camera.Width,
		Height:          cfg.Camera.Height,
		FPS:             cfg.Camera.FPS,
		RotationDegrees: cfg.Camera.RotationDegrees,
	}, log)
	mb := frame.NewMailbox()
	session := frame.NewSession(src, mb, log)
	if err := session.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer session.Stop(context.Background())

	f, err := mb.Receive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No frame captured: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	fmt.Printf("Frame %dx%d, rotation %d\n", f.Width, f.Height, f.RotationDegrees)

	pipeline, err := preprocess.NewPipeline(engine.InputSpec(), f.RotationDegrees)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	start := time.Now()
	tensor, err := pipeline.Process(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	predictions, err := engine.Detect(tensor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Inference took %s\n\n", time.Since(start).Truncate(time.Millisecond))

	for _, p := range predictions {
		fmt.Printf("  %-16s %s\n", p.Label, presenter.Format(p.Score))
	}
	if top, ok := presenter.Top(predictions); ok {
		fmt.Printf("\nTop: %s %s\n", top.Label, presenter.Format(top.Score))
	} else {
		fmt.Printf("\nTop: %s\n", presenter.Sentinel)
	}
}
