package app

import (
	"image/color"

	"github.com/vzahanych/camsense/internal/config"
	"github.com/vzahanych/camsense/internal/frame"
	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/sensor"
)

// SyntheticDevice selects the built-in test pattern instead of a camera
const SyntheticDevice = "synthetic"

// NewSensorSource picks the replay file over the serial port. It returns nil
// when the sensor is disabled.
func NewSensorSource(cfg *config.Config, log *logger.Logger) (sensor.Source, error) {
	if !cfg.Sensor.Enabled {
		return nil, nil
	}
	if cfg.Sensor.ReplayFile != "" {
		return sensor.NewFileSource(cfg.Sensor.ReplayFile, log), nil
	}
	return sensor.NewSerialSource(cfg.Sensor.Port, cfg.Sensor.BaudRate, log), nil
}

// NewSyntheticSource builds the test pattern source from the camera settings
func NewSyntheticSource(cfg *config.Config, preview frame.PreviewSink) (*frame.Synthetic, error) {
	c := color.RGBA{R: 90, G: 120, B: 160, A: 255}
	if cfg.Camera.SyntheticColor != "" {
		parsed, err := frame.ParseHexColor(cfg.Camera.SyntheticColor)
		if err != nil {
			return nil, err
		}
		c = parsed
	}
	return frame.NewSynthetic(frame.SyntheticConfig{
		Width:           cfg.Camera.Width,
		Height:          cfg.Camera.Height,
		FPS:             cfg.Camera.FPS,
		RotationDegrees: cfg.Camera.RotationDegrees,
		Color:           c,
		PreviewFPS:      cfg.Camera.PreviewFPS,
		PreviewQuality:  cfg.Camera.PreviewQuality,
		Preview:         preview,
	}), nil
}
