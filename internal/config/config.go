// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults for a fresh configuration. The capture defaults describe 16 kHz
// mono speech capture with periods of up to 4160 frames.
const (
	DefaultLogLevel = "info"

	DefaultDeviceID          = -1 // system default device
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFramesPerBuffer   = 0 // host chooses
	DefaultMaxFramesPerSlice = 4160
	DefaultLowLatency        = true
	DefaultDuplex            = true
	DefaultGateThreshold     = 0.01

	DefaultFrameSize      = 4096
	DefaultWindow         = "none"
	DefaultPoolSize       = 4
	DefaultRemainder      = "carry"
	DefaultPollInterval   = 2 * time.Millisecond
	DefaultRolloffPercent = 0.85
	DefaultOnsetThreshold = 0.05
	DefaultOnsetRatio     = 1.5
	DefaultOnsetCooldown  = 2

	DefaultRecordingDir      = "./recordings"
	DefaultRecordingBitDepth = 16

	DefaultWebSocketAddress = ":8081"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 16 * time.Millisecond
	DefaultLogEvery         = 100

	DefaultMetricsAddress = ":9464"

	// Hardware and processing limits.
	MinSampleRate   = 8000
	MaxSampleRate   = 384000
	MaxChannels     = 32
	MaxBufferFrames = 8192
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:       DefaultDeviceID,
			OutputDevice:      DefaultDeviceID,
			Duplex:            DefaultDuplex,
			SampleRate:        DefaultSampleRate,
			Channels:          DefaultChannels,
			FramesPerBuffer:   DefaultFramesPerBuffer,
			MaxFramesPerSlice: DefaultMaxFramesPerSlice,
			LowLatency:        DefaultLowLatency,
			GateThreshold:     DefaultGateThreshold,
		},
		Analysis: AnalysisConfig{
			FrameSize:       DefaultFrameSize,
			Window:          DefaultWindow,
			PoolSize:        DefaultPoolSize,
			RemainderPolicy: DefaultRemainder,
			PollInterval:    DefaultPollInterval,
			RolloffPercent:  DefaultRolloffPercent,
			OnsetThreshold:  DefaultOnsetThreshold,
			OnsetRatio:      DefaultOnsetRatio,
			OnsetCooldown:   DefaultOnsetCooldown,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
			BitDepth:  DefaultRecordingBitDepth,
		},
		Transport: TransportConfig{
			WebSocketAddress: DefaultWebSocketAddress,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
			LogEvery:         DefaultLogEvery,
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
	}
}
