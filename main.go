package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/vzahanych/camsense/internal/app"
	"github.com/vzahanych/camsense/internal/camera"
	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/inference/tflite"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/permission"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

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

	log.Info("Starting camsense",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	configSvc, err := config.NewService(configPath, log.Named("config"))
	if err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}
	cfg = configSvc.Get()

	// hardware settings only apply on restart
	configSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if !reflect.DeepEqual(oldCfg.Camera, newCfg.Camera) || !reflect.DeepEqual(oldCfg.Model, newCfg.Model) {
			log.Warn("Camera or model settings changed, restart to apply")
		}
		return nil
	})

	a, err := app.New(cfg, deps(cfg, log), log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	exitCode := 0
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info("Received SIGHUP, re-checking permissions and reloading configuration")
				a.Pause()
				if err := configSvc.Reload(ctx); err != nil {
					log.Error("Configuration reload failed", "error", err)
				}
				a.Resume()
				continue
			}
			log.Info("Received shutdown signal", "signal", sig)
			break loop
		case err := <-runErr:
			if err != nil {
				log.Error("Stopping", "error", err)
			}
			exitCode = app.ExitCode(err)
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		exitCode = 1
	}
	cancel()

	log.Info("Shutdown complete")
	if exitCode != 0 {
		log.Sync()
		os.Exit(exitCode)
	}
}

// deps binds the app to the camera, the TFLite runtime and device nodes
func deps(cfg *config.Config, log *logger.Logger) app.Deps {
	return app.Deps{
		NewEngine: func(cfg *config.Config, labels []string, log *logger.Logger) (inference.Engine, error) {
			return tflite.New(tflite.Config{
				ModelPath:   cfg.Model.Path,
				Delegate:    cfg.Model.Delegate,
				NumThreads:  cfg.Model.NumThreads,
				Labels:      labels,
				LabelOffset: cfg.Model.Offset(),
				ObjectCount: cfg.Model.ObjectCount,
				Mean:        cfg.Preprocess.Mean,
				Std:         cfg.Preprocess.Std,
			}, log)
		},
		NewSource: func(cfg *config.Config, preview frame.PreviewSink, log *logger.Logger) (frame.Source, error) {
			if cfg.Camera.Device == app.SyntheticDevice {
				return app.NewSyntheticSource(cfg, preview)
			}
			return camera.New(camera.Config{
				Device:          cfg.Camera.Device,
				Width:           cfg.Camera.Width,
				Height:          cfg.Camera.Height,
				FPS:             cfg.Camera.FPS,
				RotationDegrees: cfg.Camera.RotationDegrees,
				PreviewFPS:      cfg.Camera.PreviewFPS,
				PreviewQuality:  cfg.Camera.PreviewQuality,
				Preview:         preview,
			}, log), nil
		},
		NewSensor: app.NewSensorSource,
		Authorizer: permission.NewDeviceAuthorizer(
			cfg.Camera.Device,
			cfg.Permission.RequestTimeout,
			cfg.Permission.PollInterval,
			log.Named("permission"),
		),
		Devices: func() (interface{}, error) {
			return camera.Discover("/dev", "/sys/class/video4linux")
		},
		Version: version,
	}
}

