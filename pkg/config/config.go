// Package config holds the vrglove settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/vrglove/pkg/calibration"
	"github.com/gwillem/vrglove/pkg/glove"
)

const DefaultConfigFile = "vrglove.yaml"

// Config holds the full configuration
type Config struct {
	Glove       GloveConfig       `yaml:"glove"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Teleop      TeleopConfig      `yaml:"teleop"`
	VR          VRConfig          `yaml:"vr"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// GloveConfig selects the glove device
type GloveConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Sensors  int           `yaml:"sensors"`
	Timeout  time.Duration `yaml:"timeout"`
	// Replay reads samples from a CSV file instead of the serial port.
	Replay string `yaml:"replay,omitempty"`
}

// CalibrationConfig holds calibration inputs and outputs
type CalibrationConfig struct {
	Poses          string                    `yaml:"poses"`
	Prefix         string                    `yaml:"prefix"`
	SamplesPerPose int                       `yaml:"samples_per_pose"`
	Explore        time.Duration             `yaml:"explore"`
	Settle         time.Duration             `yaml:"settle"`
	DumpDir        string                    `yaml:"dump_dir,omitempty"`
	Groups         []calibration.FingerGroup `yaml:"groups,omitempty"`
}

// TeleopConfig holds simulation loop settings
type TeleopConfig struct {
	// Model is a kinematic model file; empty uses the built-in hand.
	Model     string `yaml:"model,omitempty"`
	UseGlove  bool   `yaml:"use_glove"`
	LogPrefix string `yaml:"log_prefix,omitempty"`
	Hz        int    `yaml:"hz"`
}

// VRConfig selects the VR runtime
type VRConfig struct {
	Runtime  string `yaml:"runtime"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// TelemetryConfig enables state publishing
type TelemetryConfig struct {
	Listen    string `yaml:"listen,omitempty"`
	MQTTTopic string `yaml:"mqtt_topic,omitempty"`
}

// LogConfig controls log output
type LogConfig struct {
	Debug      bool   `yaml:"debug"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Glove: GloveConfig{
			BaudRate: 115200,
			Sensors:  glove.DefaultSensors,
			Timeout:  100 * time.Millisecond,
		},
		Calibration: CalibrationConfig{
			Poses:          "poses.csv",
			Prefix:         "glove",
			SamplesPerPose: calibration.DefaultSamplesPerPose,
			Explore:        10 * time.Second,
			Settle:         time.Second,
		},
		Teleop: TeleopConfig{
			Hz: 500,
		},
		VR: VRConfig{
			Runtime:  "mock",
			Broker:   "tcp://localhost:1883",
			Topic:    "vrglove/vr/frame",
			ClientID: "vrglove-teleop",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Exists returns true if the config file exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VRGLOVE_PORT"); v != "" {
		c.Glove.Port = v
	}
	if v := os.Getenv("VRGLOVE_BROKER"); v != "" {
		c.VR.Broker = v
	}
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	switch c.VR.Runtime {
	case "mock", "mqtt":
	default:
		return fmt.Errorf("vr.runtime must be mock or mqtt, got %q", c.VR.Runtime)
	}
	if c.Glove.Sensors <= 0 {
		return fmt.Errorf("glove.sensors must be positive, got %d", c.Glove.Sensors)
	}
	if c.Glove.BaudRate <= 0 {
		return fmt.Errorf("glove.baud_rate must be positive, got %d", c.Glove.BaudRate)
	}
	if c.Teleop.Hz <= 0 {
		return fmt.Errorf("teleop.hz must be positive, got %d", c.Teleop.Hz)
	}
	if c.Calibration.SamplesPerPose <= 0 {
		return fmt.Errorf("calibration.samples_per_pose must be positive, got %d", c.Calibration.SamplesPerPose)
	}
	return nil
}

// FingerGroups returns the configured groups or the defaults.
func (c *Config) FingerGroups() []calibration.FingerGroup {
	if len(c.Calibration.Groups) > 0 {
		return c.Calibration.Groups
	}
	return calibration.DefaultGroups()
}

// GloveDevice converts the glove section for glove.Open.
func (c *Config) GloveDevice() glove.Config {
	return glove.Config{
		Port:     c.Glove.Port,
		BaudRate: c.Glove.BaudRate,
		Sensors:  c.Glove.Sensors,
		Timeout:  c.Glove.Timeout,
	}
}
