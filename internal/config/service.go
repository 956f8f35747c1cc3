package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/camsense/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file and notifies watchers
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies CAMSENSE_* environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CAMSENSE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("CAMSENSE_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("CAMSENSE_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}

	cfg.Camera.Device = GetEnvWithDefault("CAMSENSE_CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.RotationDegrees = GetEnvInt("CAMSENSE_CAMERA_ROTATION", cfg.Camera.RotationDegrees)

	cfg.Model.Path = GetEnvWithDefault("CAMSENSE_MODEL_PATH", cfg.Model.Path)
	cfg.Model.LabelsPath = GetEnvWithDefault("CAMSENSE_LABELS_PATH", cfg.Model.LabelsPath)
	cfg.Model.Delegate = GetEnvWithDefault("CAMSENSE_MODEL_DELEGATE", cfg.Model.Delegate)

	cfg.Motion.Threshold = GetEnvFloat64("CAMSENSE_MOTION_THRESHOLD", cfg.Motion.Threshold)
	cfg.Motion.Sustain = GetEnvDuration("CAMSENSE_MOTION_SUSTAIN", cfg.Motion.Sustain)

	cfg.Sensor.Enabled = GetEnvBool("CAMSENSE_SENSOR_ENABLED", cfg.Sensor.Enabled)
	cfg.Sensor.Port = GetEnvWithDefault("CAMSENSE_SENSOR_PORT", cfg.Sensor.Port)

	cfg.Web.Enabled = GetEnvBool("CAMSENSE_WEB_ENABLED", cfg.Web.Enabled)
	cfg.Web.Port = GetEnvInt("CAMSENSE_WEB_PORT", cfg.Web.Port)

	cfg.Journal.Enabled = GetEnvBool("CAMSENSE_JOURNAL_ENABLED", cfg.Journal.Enabled)
}

// GetEnvWithDefault gets an environment variable or returns a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(os.Getenv(key))
	switch val {
	case "":
		return defaultValue
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
