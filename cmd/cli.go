// SPDX-License-Identifier: MIT
// Package cmd is the spectra command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"spectra/internal/audio"
	"spectra/internal/config"
	"spectra/internal/log"
	"spectra/internal/pipeline"
	"spectra/pkg/build"

	"github.com/spf13/cobra"
)

// RunFunc runs the pipeline for a resolved configuration.
type RunFunc func(ctx context.Context, cfg *config.Config) error

// Execute parses args and runs the selected command.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	root := newRootCmd(runPipeline, stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func runPipeline(ctx context.Context, cfg *config.Config) error {
	p, err := pipeline.New(cfg, audio.PortAudioHost{})
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

// flagValues receives flag values; only flags set on the command line are
// copied into the configuration.
type flagValues struct {
	configPath string
	verbose    bool
	logLevel   string

	device          int
	outputDevice    int
	sampleRate      float64
	channels        int
	framesPerBuffer int
	lowLatency      bool
	duplex          bool
	monitor         bool
	gate            bool
	gateThreshold   float64

	frameSize int
	window    string
	policy    string

	record    bool
	outputDir string

	websocket   bool
	wsAddr      string
	udp         bool
	udpAddr     string
	udpInterval time.Duration
	logSink     bool

	metrics     bool
	metricsAddr string
}

func newRootCmd(run RunFunc, stdout io.Writer) *cobra.Command {
	info := build.GetBuildFlags()
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         info.Description,
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, &fv)
			if err != nil {
				return err
			}
			log.Infof("%s", info)
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetVersionTemplate(info.String() + "\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&fv.configPath, "config", "f", "", "YAML configuration file (default ./config.yaml if present)")
	pf.BoolVarP(&fv.verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	pf.StringVar(&fv.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")

	f := rootCmd.Flags()
	f.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	f.IntVar(&fv.outputDevice, "output-device", config.DefaultDeviceID, "Output device ID for duplex streams")
	f.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate, "Sample rate, measured in Hertz (Hz)")
	f.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels, "Input channels to open; channel 0 is analyzed")
	f.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Frames per callback, 0 lets the host choose")
	f.BoolVarP(&fv.lowLatency, "low-latency", "l", config.DefaultLowLatency, "Request the device's low latency settings")
	f.BoolVar(&fv.duplex, "duplex", config.DefaultDuplex, "Open the output bus alongside the input")
	f.BoolVar(&fv.monitor, "monitor", false, "Play the filtered input on the output bus")
	f.BoolVar(&fv.gate, "gate", false, "Silence periods whose peak is below the gate threshold")
	f.Float64Var(&fv.gateThreshold, "gate-threshold", config.DefaultGateThreshold, "Noise gate threshold (0..1)")

	f.IntVarP(&fv.frameSize, "frame-size", "n", config.DefaultFrameSize, "Analysis frame size, a power of two")
	f.StringVarP(&fv.window, "window", "w", config.DefaultWindow, "Analysis window: none, hann, hamming, blackman, ...")
	f.StringVar(&fv.policy, "remainder", config.DefaultRemainder, "Samples past a frame boundary: carry or drop")

	f.BoolVarP(&fv.record, "record", "r", false, "Record the filtered input to a WAV file")
	f.StringVarP(&fv.outputDir, "output-dir", "o", config.DefaultRecordingDir, "Directory for recordings")

	f.BoolVar(&fv.websocket, "websocket", false, "Serve spectra to WebSocket clients")
	f.StringVar(&fv.wsAddr, "websocket-addr", config.DefaultWebSocketAddress, "WebSocket listen address")
	f.BoolVar(&fv.udp, "udp", false, "Publish spectra as UDP packets")
	f.StringVar(&fv.udpAddr, "udp-addr", config.DefaultUDPTargetAddress, "UDP target address")
	f.DurationVar(&fv.udpInterval, "udp-interval", config.DefaultUDPSendInterval, "Interval between UDP packets")
	f.BoolVar(&fv.logSink, "log-features", false, "Log per-frame features at debug level")

	f.BoolVar(&fv.metrics, "metrics", false, "Serve Prometheus metrics")
	f.StringVar(&fv.metricsAddr, "metrics-addr", config.DefaultMetricsAddress, "Metrics listen address")

	return rootCmd
}

// resolveConfig loads the configuration file and environment, then applies
// the flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, fv *flagValues) (*config.Config, error) {
	cfg, err := config.LoadConfig(fv.configPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.LogLevel = fv.logLevel })
	set("device", func() { cfg.Audio.InputDevice = fv.device })
	set("output-device", func() { cfg.Audio.OutputDevice = fv.outputDevice })
	set("sample-rate", func() { cfg.Audio.SampleRate = fv.sampleRate })
	set("channels", func() { cfg.Audio.Channels = fv.channels })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = fv.framesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = fv.lowLatency })
	set("duplex", func() { cfg.Audio.Duplex = fv.duplex })
	set("monitor", func() { cfg.Audio.Monitor = fv.monitor })
	set("gate", func() { cfg.Audio.GateEnabled = fv.gate })
	set("gate-threshold", func() { cfg.Audio.GateThreshold = fv.gateThreshold })
	set("frame-size", func() { cfg.Analysis.FrameSize = fv.frameSize })
	set("window", func() { cfg.Analysis.Window = fv.window })
	set("remainder", func() { cfg.Analysis.RemainderPolicy = fv.policy })
	set("record", func() { cfg.Recording.Enabled = fv.record })
	set("output-dir", func() { cfg.Recording.OutputDir = fv.outputDir })
	set("websocket", func() { cfg.Transport.WebSocketEnabled = fv.websocket })
	set("websocket-addr", func() { cfg.Transport.WebSocketAddress = fv.wsAddr })
	set("udp", func() { cfg.Transport.UDPEnabled = fv.udp })
	set("udp-addr", func() { cfg.Transport.UDPTargetAddress = fv.udpAddr })
	set("udp-interval", func() { cfg.Transport.UDPSendInterval = fv.udpInterval })
	set("log-features", func() { cfg.Transport.LogEnabled = fv.logSink })
	set("metrics", func() { cfg.Metrics.Enabled = fv.metrics })
	set("metrics-addr", func() { cfg.Metrics.Address = fv.metricsAddr })
	if fv.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	return cfg, nil
}
