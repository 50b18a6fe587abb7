// Package config loads and validates the vigia configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file. Nothing else is read from
// the environment.
const (
	EnvStreamURL = "VIGIA_STREAM_URL"
	EnvClipDir   = "VIGIA_CLIP_DIR"
	EnvRecordDir = "VIGIA_RECORD_DIR"
)

// Config is the complete vigia configuration.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Storage   StorageConfig   `yaml:"storage"`
	Detection DetectionConfig `yaml:"detection"`
	Recording RecordingConfig `yaml:"recording"`
	Server    ServerConfig    `yaml:"server"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Log       LogConfig       `yaml:"log"`
}

// StreamConfig describes the HTTP image stream.
type StreamConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // wait between reconnect attempts
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // dial + response header timeout
}

// StorageConfig holds the flat-file directories.
type StorageConfig struct {
	ClipDir   string `yaml:"clip_dir"`   // recorded clips
	RecordDir string `yaml:"record_dir"` // JSON event records
}

// DetectionConfig controls the motion detector and the event gate.
type DetectionConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	MotionDuration time.Duration `yaml:"motion_duration"` // episode + cooldown window
	Sensitivity    int           `yaml:"sensitivity"`     // minimum contour area in pixels
}

// RecordingConfig fixes the clip format.
type RecordingConfig struct {
	FPS       int    `yaml:"fps"`
	Frames    int    `yaml:"frames"`
	Codec     string `yaml:"codec"`     // FourCC
	Extension string `yaml:"extension"` // without the dot
}

// ServerConfig configures the UI-facing adapters.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	Tray      bool   `yaml:"tray"`
}

// HooksConfig configures the programs run after each recorded event.
// An empty Dir disables hooks.
type HooksConfig struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			URL:            "http://192.168.1.211:8080/?action=stream",
			ReconnectDelay: 2 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			ClipDir:   "~/Downloads/momento2/eventos",
			RecordDir: "~/Downloads/momento2/jsons",
		},
		Detection: DetectionConfig{
			TickInterval:   30 * time.Millisecond,
			MotionDuration: 30 * time.Second,
			Sensitivity:    500,
		},
		Recording: RecordingConfig{
			FPS:       5,
			Frames:    50,
			Codec:     "mp4v",
			Extension: "mp4",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Hooks: HooksConfig{
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment overrides, expands home directories and validates the result.
// An empty path loads the defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.expandPaths(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvStreamURL); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv(EnvClipDir); v != "" {
		c.Storage.ClipDir = v
	}
	if v := os.Getenv(EnvRecordDir); v != "" {
		c.Storage.RecordDir = v
	}
}

func (c *Config) expandPaths() error {
	var err error
	if c.Storage.ClipDir, err = expandHome(c.Storage.ClipDir); err != nil {
		return err
	}
	if c.Storage.RecordDir, err = expandHome(c.Storage.RecordDir); err != nil {
		return err
	}
	if c.Hooks.Dir, err = expandHome(c.Hooks.Dir); err != nil {
		return err
	}
	return nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url is required"))
	} else if !strings.HasPrefix(c.Stream.URL, "http://") && !strings.HasPrefix(c.Stream.URL, "https://") {
		errs = append(errs, fmt.Errorf("stream.url must be http(s), got %q", c.Stream.URL))
	}
	if c.Stream.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("stream.reconnect_delay must be positive"))
	}
	if c.Stream.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("stream.connect_timeout must be positive"))
	}

	if c.Storage.ClipDir == "" {
		errs = append(errs, errors.New("storage.clip_dir is required"))
	}
	if c.Storage.RecordDir == "" {
		errs = append(errs, errors.New("storage.record_dir is required"))
	}

	if c.Detection.TickInterval <= 0 {
		errs = append(errs, errors.New("detection.tick_interval must be positive"))
	}
	if c.Detection.MotionDuration <= 0 {
		errs = append(errs, errors.New("detection.motion_duration must be positive"))
	}
	if c.Detection.Sensitivity <= 0 {
		errs = append(errs, errors.New("detection.sensitivity must be positive"))
	}

	if c.Recording.FPS <= 0 {
		errs = append(errs, errors.New("recording.fps must be positive"))
	}
	if c.Recording.Frames <= 0 {
		errs = append(errs, errors.New("recording.frames must be positive"))
	}
	if len(c.Recording.Codec) != 4 {
		errs = append(errs, fmt.Errorf("recording.codec must be a FourCC, got %q", c.Recording.Codec))
	}
	if c.Recording.Extension == "" || strings.Contains(c.Recording.Extension, ".") {
		errs = append(errs, fmt.Errorf("recording.extension must be a bare extension, got %q", c.Recording.Extension))
	}

	if c.Hooks.Timeout <= 0 {
		errs = append(errs, errors.New("hooks.timeout must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
