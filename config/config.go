// Package config reads the YAML configuration of the car.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/edgeimpulse/rccar-go/motor/serialdrv"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the car.
type Config struct {
	Camera          CameraConfig   `yaml:"camera"`
	Motors          MotorsConfig   `yaml:"motors"`
	Recorder        RecorderConfig `yaml:"recorder"`
	Pilot           PilotConfig    `yaml:"pilot"`
	HTTP            HTTPConfig     `yaml:"http"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"` // For storing pending samples on exit. Default 10s.
}

// CameraConfig selects the camera recorder.
type CameraConfig struct {
	Recorder   string `yaml:"recorder"`    // ffmpeg, gstreamer, imagesnap or replay. Default ffmpeg, imagesnap on macOS.
	Device     string `yaml:"device"`      // Device ID as listed with --list-devices. Default first device.
	Width      int    `yaml:"width"`       // Default 64.
	Height     int    `yaml:"height"`      // Default 64.
	Framerate  int    `yaml:"framerate"`   // Default 30.
	ReplayDir  string `yaml:"replay_dir"`  // JPEG files for the replay recorder.
	ReplayLoop bool   `yaml:"replay_loop"` // Start over after the last replay file.
	Verbose    bool   `yaml:"verbose"`     // Show output of the capture program.
}

// MotorsConfig describes the motor controller board.
type MotorsConfig struct {
	DryRun       bool                  `yaml:"dry_run"` // Log motor commands instead of sending them.
	Port         string                `yaml:"port"`    // Serial port of the board, eg /dev/ttyACM0.
	Serial       serialdrv.PortOptions `yaml:"serial"`
	DriveChannel int                   `yaml:"drive_channel"` // Default 0.
	SteerChannel int                   `yaml:"steer_channel"` // Default 1.
	Speed        float64               `yaml:"speed"`         // Drive speed in (0,1]. Default 0.8.
	Kick         time.Duration         `yaml:"kick"`          // Full power time when starting the drive motor. Default 10ms.
	NoKick       bool                  `yaml:"no_kick"`
}

// RecorderConfig selects where recorded sessions are stored.
type RecorderConfig struct {
	Interval time.Duration `yaml:"interval"` // Default 50ms.
	Store    string        `yaml:"store"`    // file, sqlite or ingest. Default file.
	Dir      string        `yaml:"dir"`      // For store file. Default "images".
	Database string        `yaml:"database"` // For store sqlite. Default "sessions.sqlite".
	Ingest   IngestConfig  `yaml:"ingest"`
}

// IngestConfig has the Edge Impulse project credentials for store ingest.
type IngestConfig struct {
	APIKey   string `yaml:"api_key"`  // Default from environment variable EI_API_KEY.
	Category string `yaml:"category"` // training, testing or split. Default split.
}

// PilotConfig configures the model. Without model, auto mode is unavailable.
type PilotConfig struct {
	Model     string        `yaml:"model"`     // Path to an .eim model file.
	Interval  time.Duration `yaml:"interval"`  // Zero is as fast as frames arrive.
	Smoothing int           `yaml:"smoothing"` // Moving average over this many predictions, if > 1.
	TraceDir  string        `yaml:"trace_dir"` // Write model requests, responses and input images here.
}

// HTTPConfig configures the remote control.
type HTTPConfig struct {
	Listen    string `yaml:"listen"`     // Default ":5000".
	StreamFPS int    `yaml:"stream_fps"` // Default 10.
}

// Load reads and parses a YAML configuration file, and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Decode reads and parses a YAML configuration file without validating it,
// for callers that override values before calling Validate. An empty path
// gives an empty configuration.
func Decode(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Parse parses and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
