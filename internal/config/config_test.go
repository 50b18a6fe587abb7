package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvStreamURL, "")
	t.Setenv(EnvClipDir, "")
	t.Setenv(EnvRecordDir, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Detection.Sensitivity != 500 {
		t.Errorf("Sensitivity = %d, want 500", cfg.Detection.Sensitivity)
	}
	if cfg.Recording.Frames != 50 || cfg.Recording.FPS != 5 {
		t.Errorf("Recording = %+v, want 50 frames at 5 fps", cfg.Recording)
	}
	if strings.HasPrefix(cfg.Storage.ClipDir, "~") {
		t.Errorf("ClipDir = %q, home directory was not expanded", cfg.Storage.ClipDir)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvStreamURL, "")
	t.Setenv(EnvClipDir, "")
	t.Setenv(EnvRecordDir, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "vigia.yaml")
	data := `
stream:
  url: http://camera.local/stream
  reconnect_delay: 500ms
storage:
  clip_dir: /var/lib/vigia/clips
  record_dir: /var/lib/vigia/records
detection:
  tick_interval: 50ms
  motion_duration: 1s
  sensitivity: 800
recording:
  codec: MJPG
  extension: avi
hooks:
  dir: /etc/vigia/hooks
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hooks.Dir != "/etc/vigia/hooks" || cfg.Hooks.Timeout != 2*time.Second {
		t.Errorf("Hooks = %+v", cfg.Hooks)
	}
	if cfg.Stream.URL != "http://camera.local/stream" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
	if cfg.Stream.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("ReconnectDelay = %v, want 500ms", cfg.Stream.ReconnectDelay)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Stream.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want default 5s", cfg.Stream.ConnectTimeout)
	}
	if cfg.Detection.MotionDuration != time.Second {
		t.Errorf("MotionDuration = %v, want 1s", cfg.Detection.MotionDuration)
	}
	if cfg.Detection.Sensitivity != 800 {
		t.Errorf("Sensitivity = %d, want 800", cfg.Detection.Sensitivity)
	}
	if cfg.Recording.Codec != "MJPG" || cfg.Recording.Extension != "avi" {
		t.Errorf("Recording = %+v", cfg.Recording)
	}
	if cfg.Recording.FPS != 5 {
		t.Errorf("Recording.FPS = %d, want default 5", cfg.Recording.FPS)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvStreamURL, "http://override/stream")
	t.Setenv(EnvClipDir, "/tmp/clips")
	t.Setenv(EnvRecordDir, "/tmp/records")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stream.URL != "http://override/stream" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
	if cfg.Storage.ClipDir != "/tmp/clips" {
		t.Errorf("ClipDir = %q", cfg.Storage.ClipDir)
	}
	if cfg.Storage.RecordDir != "/tmp/records" {
		t.Errorf("RecordDir = %q", cfg.Storage.RecordDir)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("stream: [unterminated"), 0644)
		if _, err := Load(path); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Stream.URL = "" },
			wantErr: "stream.url is required",
		},
		{
			name:    "rtsp url",
			mutate:  func(c *Config) { c.Stream.URL = "rtsp://camera/stream" },
			wantErr: "stream.url must be http(s)",
		},
		{
			name:    "zero sensitivity",
			mutate:  func(c *Config) { c.Detection.Sensitivity = 0 },
			wantErr: "detection.sensitivity",
		},
		{
			name:    "bad codec",
			mutate:  func(c *Config) { c.Recording.Codec = "h264x" },
			wantErr: "FourCC",
		},
		{
			name:    "dotted extension",
			mutate:  func(c *Config) { c.Recording.Extension = ".mp4" },
			wantErr: "bare extension",
		},
		{
			name:    "zero hook timeout",
			mutate:  func(c *Config) { c.Hooks.Timeout = 0 },
			wantErr: "hooks.timeout",
		},
		{
			name:    "unknown level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Stream.URL = ""
	cfg.Recording.FPS = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"stream.url", "recording.fps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
