package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Camera settings
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errors = append(errors, fmt.Sprintf("camera.width and camera.height must be > 0, got: %dx%d", c.Camera.Width, c.Camera.Height))
	}
	switch c.Camera.RotationDegrees {
	case 0, 90, 180, 270:
	default:
		errors = append(errors, fmt.Sprintf("camera.rotation_degrees must be one of 0, 90, 180, 270, got: %d", c.Camera.RotationDegrees))
	}
	if c.Camera.PreviewQuality < 1 || c.Camera.PreviewQuality > 100 {
		errors = append(errors, fmt.Sprintf("camera.preview_quality must be between 1 and 100, got: %d", c.Camera.PreviewQuality))
	}

	// Model settings
	if c.Model.Path == "" {
		errors = append(errors, "model.path is required")
	}
	if c.Model.LabelsPath == "" {
		errors = append(errors, "model.labels_path is required")
	}
	switch strings.ToLower(c.Model.Delegate) {
	case "none", "xnnpack", "edgetpu":
	default:
		errors = append(errors, fmt.Sprintf("invalid model.delegate: %s (must be: none, xnnpack, edgetpu)", c.Model.Delegate))
	}
	if c.Model.ObjectCount <= 0 {
		errors = append(errors, fmt.Sprintf("model.object_count must be > 0, got: %d", c.Model.ObjectCount))
	}
	if c.Model.Offset() < 0 {
		errors = append(errors, fmt.Sprintf("model.label_offset must be >= 0, got: %d", c.Model.Offset()))
	}

	if c.Preprocess.Std <= 0 {
		errors = append(errors, fmt.Sprintf("preprocess.std must be > 0, got: %v", c.Preprocess.Std))
	}

	// Motion settings
	if c.Motion.Threshold <= 0 {
		errors = append(errors, fmt.Sprintf("motion.threshold must be > 0, got: %v", c.Motion.Threshold))
	}
	if c.Motion.Sustain < 0 {
		errors = append(errors, fmt.Sprintf("motion.sustain must be >= 0, got: %v", c.Motion.Sustain))
	}

	if c.Sensor.Enabled && c.Sensor.Port == "" && c.Sensor.ReplayFile == "" {
		errors = append(errors, "sensor.port or sensor.replay_file is required when the sensor is enabled")
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 0 and 65535, got: %d", c.Web.Port))
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("health.port must be between 0 and 65535, got: %d", c.Health.Port))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errors = append(errors, "journal.path is required when the journal is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
