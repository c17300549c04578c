// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Audio.SampleRate != DefaultSampleRate || cfg.Analysis.FrameSize != DefaultFrameSize {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Audio.MaxFramesPerSlice != 4160 || cfg.Audio.Channels != 1 {
		t.Errorf("capture defaults: %+v", cfg.Audio)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  sample_rate: 48000
  channels: 2
  monitor: true
analysis:
  frame_size: 2048
  window: hann
  remainder_policy: drop
transport:
  udp_enabled: true
  udp_send_interval: 33ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 || !cfg.Audio.Monitor {
		t.Errorf("audio section not applied: %+v", cfg.Audio)
	}
	if cfg.Analysis.FrameSize != 2048 || cfg.Analysis.Window != "hann" || cfg.Analysis.RemainderPolicy != "drop" {
		t.Errorf("analysis section not applied: %+v", cfg.Analysis)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPSendInterval != 33*time.Millisecond {
		t.Errorf("transport section not applied: %+v", cfg.Transport)
	}
	// Untouched keys keep their defaults.
	if cfg.Analysis.PoolSize != DefaultPoolSize || cfg.Transport.UDPTargetAddress != DefaultUDPTargetAddress {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"Frame size 4160", func(c *Config) { c.Analysis.FrameSize = 4160 }, "analysis.frame_size must be a power of two"},
		{"Frame size 1", func(c *Config) { c.Analysis.FrameSize = 1 }, "analysis.frame_size must be at least 2"},
		{"Unknown window", func(c *Config) { c.Analysis.Window = "triangle" }, "analysis.window"},
		{"Unknown policy", func(c *Config) { c.Analysis.RemainderPolicy = "keep" }, "analysis.remainder_policy"},
		{"Pool too small", func(c *Config) { c.Analysis.PoolSize = 1 }, "analysis.pool_size"},
		{"Sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
		{"Channels", func(c *Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"Device", func(c *Config) { c.Audio.InputDevice = -2 }, "audio.input_device"},
		{"Gate threshold", func(c *Config) { c.Audio.GateThreshold = 2 }, "audio.gate_threshold"},
		{"Bit depth", func(c *Config) { c.Recording.BitDepth = 12 }, "recording.bit_depth must be one of"},
		{"UDP address", func(c *Config) { c.Transport.UDPTargetAddress = "nowhere" }, "transport.udp_target_address must be host:port"},
		{"UDP interval", func(c *Config) { c.Transport.UDPSendInterval = 0 }, "transport.udp_send_interval"},
		{"Log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %v does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Analysis.FrameSize = 100
	cfg.Audio.Channels = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "frame_size") || !strings.Contains(err.Error(), "channels") {
		t.Fatalf("got %v", err)
	}
}

// Not parallel: environment variables are process-wide.
func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  udp_target_address: 10.0.0.1:7000\n")
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "127.0.0.1:9999")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "20ms")
	t.Setenv("ENV_FRAME_SIZE", "1024")
	t.Setenv("ENV_SAMPLE_RATE", "44100")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPTargetAddress != "127.0.0.1:9999" ||
		cfg.Transport.UDPSendInterval != 20*time.Millisecond {
		t.Errorf("transport overrides: %+v", cfg.Transport)
	}
	if cfg.Analysis.FrameSize != 1024 || cfg.Audio.SampleRate != 44100 {
		t.Errorf("numeric overrides: frame %d, rate %v", cfg.Analysis.FrameSize, cfg.Audio.SampleRate)
	}
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("ENV_METRICS_ENABLED", "sometimes")
	if _, err := LoadConfig(""); err == nil || !strings.Contains(err.Error(), "ENV_METRICS_ENABLED") {
		t.Fatalf("got %v", err)
	}
}

func TestLoadConfig_EnvProducesInvalidConfig(t *testing.T) {
	t.Setenv("ENV_FRAME_SIZE", "4160")
	_, err := LoadConfig("")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("got %v", err)
	}
}
