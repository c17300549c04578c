// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"spectra/internal/buffer"
	"spectra/internal/fft"
	"spectra/internal/log"
	"spectra/pkg/bitint"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"loglevel"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	InputDevice       int     `yaml:"input_device" validate:"gte=-1"`  // PortAudio device index, -1 for default.
	OutputDevice      int     `yaml:"output_device" validate:"gte=-1"` // Used when Duplex is set.
	Duplex            bool    `yaml:"duplex"`                          // Open an output bus alongside the input.
	Monitor           bool    `yaml:"monitor"`                         // Copy filtered input to the output bus.
	SampleRate        float64 `yaml:"sample_rate" validate:"gte=8000,lte=384000"`
	Channels          int     `yaml:"channels" validate:"gte=1,lte=32"`
	FramesPerBuffer   int     `yaml:"frames_per_buffer" validate:"gte=0,lte=8192"` // 0 lets the host choose.
	MaxFramesPerSlice int     `yaml:"max_frames_per_slice" validate:"gte=1"`
	LowLatency        bool    `yaml:"low_latency"`
	GateEnabled       bool    `yaml:"gate_enabled"`
	GateThreshold     float64 `yaml:"gate_threshold" validate:"gte=0,lte=1"`
}

// AnalysisConfig holds framing and spectral analysis settings.
type AnalysisConfig struct {
	FrameSize       int           `yaml:"frame_size" validate:"gte=2,pow2"`
	Window          string        `yaml:"window" validate:"window"`
	PoolSize        int           `yaml:"pool_size" validate:"gte=2"`
	RemainderPolicy string        `yaml:"remainder_policy" validate:"remainder"`
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	RolloffPercent  float64       `yaml:"rolloff_percent" validate:"gt=0,lte=1"`
	OnsetThreshold  float64       `yaml:"onset_threshold" validate:"gte=0"`
	OnsetRatio      float64       `yaml:"onset_ratio" validate:"gte=0"`
	OnsetCooldown   int           `yaml:"onset_cooldown" validate:"gte=0"`
}

// RecordingConfig holds WAV recording settings.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	BitDepth  int    `yaml:"bit_depth" validate:"oneof=16 24 32"`
}

// TransportConfig holds result delivery settings.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address" validate:"hostname_port"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address" validate:"hostname_port"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval" validate:"gt=0"`
	LogEnabled       bool          `yaml:"log_enabled"`
	LogEvery         uint64        `yaml:"log_every"` // info summary every N frames, 0 to disable
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"hostname_port"`
}

// LoadConfig loads configuration from the YAML file at path. An empty path
// tries "config.yaml" and falls back to Default. Environment overrides are
// applied after the file, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic("config: register " + tag + ": " + err.Error())
		}
	}
	must("pow2", func(fl validator.FieldLevel) bool {
		return bitint.IsPowerOfTwo(int(fl.Field().Int()))
	})
	must("window", func(fl validator.FieldLevel) bool {
		_, err := fft.ParseWindowFunc(fl.Field().String())
		return err == nil
	})
	must("remainder", func(fl validator.FieldLevel) bool {
		_, ok := buffer.ParseRemainderPolicy(fl.Field().String())
		return ok
	})
	must("loglevel", func(fl validator.FieldLevel) bool {
		_, ok := log.ParseLevel(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks every field against its constraints and reports all
// failures at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s %s (got %v)", fieldPath(fe), formatValidationMessage(fe), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath turns "Config.analysis.frame_size" into "analysis.frame_size".
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func formatValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "pow2":
		return "must be a power of two"
	case "window":
		return "must name a window function"
	case "remainder":
		return `must be "carry" or "drop"`
	case "loglevel":
		return "must be debug, info, warn or error"
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed validation %q", fe.Tag())
	}
}

// envOverride applies one ENV_* variable when it is set.
type envOverride struct {
	name  string
	apply func(cfg *Config, val string) error
}

var envOverrides = []envOverride{
	{"ENV_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"ENV_INPUT_DEVICE", func(c *Config, v string) error { return setInt(&c.Audio.InputDevice, v) }},
	{"ENV_OUTPUT_DEVICE", func(c *Config, v string) error { return setInt(&c.Audio.OutputDevice, v) }},
	{"ENV_SAMPLE_RATE", func(c *Config, v string) error { return setFloat(&c.Audio.SampleRate, v) }},
	{"ENV_FRAME_SIZE", func(c *Config, v string) error { return setInt(&c.Analysis.FrameSize, v) }},
	{"ENV_WINDOW", func(c *Config, v string) error { c.Analysis.Window = v; return nil }},
	{"ENV_RECORDING_ENABLED", func(c *Config, v string) error { return setBool(&c.Recording.Enabled, v) }},
	{"ENV_RECORDING_DIR", func(c *Config, v string) error { c.Recording.OutputDir = v; return nil }},
	{"ENV_WS_ENABLED", func(c *Config, v string) error { return setBool(&c.Transport.WebSocketEnabled, v) }},
	{"ENV_WS_ADDRESS", func(c *Config, v string) error { c.Transport.WebSocketAddress = v; return nil }},
	{"ENV_UDP_ENABLED", func(c *Config, v string) error { return setBool(&c.Transport.UDPEnabled, v) }},
	{"ENV_UDP_TARGET_ADDRESS", func(c *Config, v string) error { c.Transport.UDPTargetAddress = v; return nil }},
	{"ENV_UDP_SEND_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Transport.UDPSendInterval, v) }},
	{"ENV_METRICS_ENABLED", func(c *Config, v string) error { return setBool(&c.Metrics.Enabled, v) }},
	{"ENV_METRICS_ADDRESS", func(c *Config, v string) error { c.Metrics.Address = v; return nil }},
}

// applyEnvOverrides applies every ENV_* variable that is set. A value that
// does not parse is an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		val, ok := os.LookupEnv(o.name)
		if !ok {
			continue
		}
		if err := o.apply(c, val); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
		log.Debugf("configuration: %s overrides file value", o.name)
	}
	return nil
}

func setInt(dst *int, s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setBool(dst *bool, s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setDuration(dst *time.Duration, s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
