package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/edgeimpulse/rccar-go/motor/serialdrv"
)

// Validate applies defaults to unset values and checks the configuration.
func Validate(cfg *Config) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateMotors(&cfg.Motors); err != nil {
		return fmt.Errorf("motors: %w", err)
	}
	if err := validateRecorder(&cfg.Recorder); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := validatePilot(&cfg.Pilot); err != nil {
		return fmt.Errorf("pilot: %w", err)
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":5000"
	}
	if cfg.HTTP.StreamFPS == 0 {
		cfg.HTTP.StreamFPS = 10
	}
	if cfg.HTTP.StreamFPS < 0 {
		return fmt.Errorf("http: stream_fps must be positive")
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Recorder == "" {
		c.Recorder = "ffmpeg"
		if runtime.GOOS == "darwin" {
			c.Recorder = "imagesnap"
		}
	}
	switch c.Recorder {
	case "ffmpeg", "gstreamer", "imagesnap":
	case "replay":
		if c.ReplayDir == "" {
			return fmt.Errorf("recorder replay needs replay_dir")
		}
	default:
		return fmt.Errorf("unknown recorder %q, need ffmpeg, gstreamer, imagesnap or replay", c.Recorder)
	}
	if c.Width == 0 {
		c.Width = 64
	}
	if c.Height == 0 {
		c.Height = 64
	}
	if c.Framerate == 0 {
		c.Framerate = 30
	}
	if c.Width < 0 || c.Height < 0 || c.Framerate < 0 {
		return fmt.Errorf("width, height and framerate must be positive")
	}
	return nil
}

func validateMotors(m *MotorsConfig) error {
	if !m.DryRun && m.Port == "" {
		return fmt.Errorf("need port of the motor board, or dry_run")
	}
	serial, err := m.Serial.Normalize()
	if err != nil {
		return err
	}
	m.Serial = serial
	if m.DriveChannel == 0 && m.SteerChannel == 0 {
		m.SteerChannel = 1
	}
	if m.DriveChannel < 0 || m.SteerChannel < 0 {
		return fmt.Errorf("channels must not be negative")
	}
	if m.DriveChannel == m.SteerChannel {
		return fmt.Errorf("drive and steer motor both on channel %d", m.DriveChannel)
	}
	if m.Speed == 0 {
		m.Speed = 0.8
	}
	if m.Speed < 0 || m.Speed > 1 {
		return fmt.Errorf("speed %v not in (0,1]", m.Speed)
	}
	if m.NoKick {
		m.Kick = 0
	} else if m.Kick == 0 {
		m.Kick = serialdrv.DefaultKick
	}
	if m.Kick < 0 {
		return fmt.Errorf("kick must not be negative")
	}
	return nil
}

func validateRecorder(r *RecorderConfig) error {
	if r.Interval == 0 {
		r.Interval = 50 * time.Millisecond
	}
	if r.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}
	if r.Store == "" {
		r.Store = "file"
	}
	if r.Dir == "" {
		r.Dir = "images"
	}
	if r.Database == "" {
		r.Database = "sessions.sqlite"
	}
	switch r.Store {
	case "file", "sqlite":
	case "ingest":
		if r.Ingest.APIKey == "" {
			r.Ingest.APIKey = os.Getenv("EI_API_KEY")
		}
		if r.Ingest.APIKey == "" {
			return fmt.Errorf("store ingest needs api_key or environment variable EI_API_KEY")
		}
		if r.Ingest.Category == "" {
			r.Ingest.Category = "split"
		}
		switch r.Ingest.Category {
		case "split", "training", "testing":
		default:
			return fmt.Errorf("invalid ingest category %q, need one of: split, training, testing", r.Ingest.Category)
		}
	default:
		return fmt.Errorf("unknown store %q, need file, sqlite or ingest", r.Store)
	}
	return nil
}

func validatePilot(p *PilotConfig) error {
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if p.Smoothing < 0 {
		return fmt.Errorf("smoothing must not be negative")
	}
	return nil
}
