package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Camera     CameraConfig     `yaml:"camera"`
	Model      ModelConfig      `yaml:"model"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Motion     MotionConfig     `yaml:"motion"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Permission PermissionConfig `yaml:"permission"`
	Web        WebConfig        `yaml:"web"`
	Journal    JournalConfig    `yaml:"journal"`
	Health     HealthConfig     `yaml:"health"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// CameraConfig describes the capture device feeding the analyzer
type CameraConfig struct {
	// Device is a V4L2 index ("0"), a device node, a file, a stream URL,
	// or "synthetic" for the built-in test pattern source.
	Device          string `yaml:"device"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	FPS             int    `yaml:"fps"`
	RotationDegrees int    `yaml:"rotation_degrees"` // sensor mounting orientation
	PreviewFPS      int    `yaml:"preview_fps"`
	PreviewQuality  int    `yaml:"preview_quality"`
	SyntheticColor  string `yaml:"synthetic_color"` // hex RGB for the synthetic source
}

// ModelConfig contains the detection model assets and runtime options
type ModelConfig struct {
	Path        string `yaml:"path"`
	LabelsPath  string `yaml:"labels_path"`
	Delegate    string `yaml:"delegate"` // none, xnnpack, edgetpu
	NumThreads  int    `yaml:"num_threads"`
	ObjectCount int    `yaml:"object_count"`
	LabelOffset *int   `yaml:"label_offset"` // index of class 0 in the labels file
}

// PreprocessConfig holds the affine rescale used for float model inputs
type PreprocessConfig struct {
	Mean float32 `yaml:"mean"`
	Std  float32 `yaml:"std"`
}

// MotionConfig contains the accelerometer hysteresis settings
type MotionConfig struct {
	Threshold    float64       `yaml:"threshold"`
	Sustain      time.Duration `yaml:"sustain"`
	MovingLabel  string        `yaml:"moving_label"`
	StoppedLabel string        `yaml:"stopped_label"`
}

// SensorConfig contains the linear-acceleration sensor link configuration
type SensorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	ReplayFile string `yaml:"replay_file"` // CSV replay instead of a serial port
}

// PermissionConfig controls how long a pending camera permission request waits
type PermissionConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// JournalConfig contains detection history configuration
type JournalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	MinInterval time.Duration `yaml:"min_interval"`
	Retention   time.Duration `yaml:"retention"`
}

// Offset returns the configured label offset
func (m ModelConfig) Offset() int {
	if m.LabelOffset == nil {
		return 0
	}
	return *m.LabelOffset
}

// HealthConfig contains health check server configuration
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. A .env file next to the
// configuration (or in the working directory) is loaded first and ${VAR}
// references in the YAML are expanded from the environment.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	if err := loadDotEnv(filepath.Dir(configPath)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// loadDotEnv loads dir/.env, falling back to ./.env. Variables already set
// in the environment win.
func loadDotEnv(dir string) error {
	for _, path := range []string{filepath.Join(dir, ".env"), ".env"} {
		err := godotenv.Load(path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/camsense/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Camera.Device == "" {
		c.Camera.Device = "0"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Camera.PreviewFPS == 0 {
		c.Camera.PreviewFPS = 10
	}
	if c.Camera.PreviewQuality == 0 {
		c.Camera.PreviewQuality = 80
	}
	if c.Camera.SyntheticColor == "" {
		c.Camera.SyntheticColor = "#808080"
	}

	if c.Model.Path == "" {
		c.Model.Path = "assets/coco_ssd_mobilenet_v1_1.0_quant.tflite"
	}
	if c.Model.LabelsPath == "" {
		c.Model.LabelsPath = "assets/coco_ssd_mobilenet_v1_1.0_labels.txt"
	}
	if c.Model.Delegate == "" {
		c.Model.Delegate = "xnnpack"
	}
	if c.Model.NumThreads == 0 {
		c.Model.NumThreads = 2
	}
	if c.Model.ObjectCount == 0 {
		c.Model.ObjectCount = 10
	}
	if c.Model.LabelOffset == nil {
		// COCO SSD label files start with a "???" background entry.
		offset := 1
		c.Model.LabelOffset = &offset
	}

	if c.Preprocess.Std == 0 {
		c.Preprocess.Mean = 127.5
		c.Preprocess.Std = 127.5
	}

	if c.Motion.Threshold == 0 {
		c.Motion.Threshold = 1.0
	}
	if c.Motion.Sustain == 0 {
		c.Motion.Sustain = time.Second
	}
	if c.Motion.MovingLabel == "" {
		c.Motion.MovingLabel = "moving"
	}
	if c.Motion.StoppedLabel == "" {
		c.Motion.StoppedLabel = "stopped"
	}

	if c.Sensor.Port == "" {
		c.Sensor.Port = "/dev/ttyACM0"
	}
	if c.Sensor.BaudRate == 0 {
		c.Sensor.BaudRate = 115200
	}

	if c.Permission.RequestTimeout == 0 {
		c.Permission.RequestTimeout = 30 * time.Second
	}
	if c.Permission.PollInterval == 0 {
		c.Permission.PollInterval = 500 * time.Millisecond
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}

	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.DataDir, "db", "journal.db")
	}
	if c.Journal.MinInterval == 0 {
		c.Journal.MinInterval = time.Second
	}
	if c.Journal.Retention == 0 {
		c.Journal.Retention = 7 * 24 * time.Hour
	}

	if c.Health.Port == 0 {
		c.Health.Port = 8081
	}
}
