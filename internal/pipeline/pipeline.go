// SPDX-License-Identifier: MIT
/*
Package pipeline assembles the capture engine, frame accumulator, analyzer
and result delivery from a Config and runs them until cancelled.

	hardware callback -> DC blocker -> Accumulator -> Analyzer -> sinks
	                                                       \-> UDP publisher (polling)
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spectra/internal/analysis"
	"spectra/internal/audio"
	"spectra/internal/buffer"
	"spectra/internal/config"
	"spectra/internal/fft"
	"spectra/internal/log"
	"spectra/internal/observe"
	"spectra/internal/record"
	"spectra/internal/transport"
	"spectra/internal/transport/udp"
	"spectra/pkg/build"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var logger = log.Component("pipeline")

// faultPollInterval is how often sticky capture faults are reported.
const faultPollInterval = time.Second

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSink adds a result sink in addition to the configured transports.
func WithSink(s analysis.Sink) Option {
	return func(p *Pipeline) { p.extraSinks = append(p.extraSinks, s) }
}

// Pipeline owns every runtime component.
type Pipeline struct {
	cfg *config.Config

	engine   *audio.Engine
	acc      *buffer.Accumulator
	analyzer *analysis.Analyzer

	recorder   *record.WAVWriter
	ws         *transport.WebSocketTransport
	udpSender  *udp.Sender
	publisher  *udp.Publisher
	metrics    *observe.Provider
	metricsReg metric.Registration

	extraSinks []analysis.Sink
}

// New validates cfg and builds every component. Nothing touches the audio
// host or the network until Run, except dialing the UDP target.
func New(cfg *config.Config, host audio.Host, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.build(host); err != nil {
		p.closeOutputs()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build(host audio.Host) error {
	cfg := p.cfg
	policy, _ := buffer.ParseRemainderPolicy(cfg.Analysis.RemainderPolicy)
	window, err := fft.ParseWindowFunc(cfg.Analysis.Window)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	p.acc, err = buffer.NewAccumulator(cfg.Analysis.FrameSize, cfg.Audio.SampleRate,
		buffer.WithPoolSize(cfg.Analysis.PoolSize),
		buffer.WithRemainderPolicy(policy),
		buffer.WithPollInterval(cfg.Analysis.PollInterval),
	)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	p.engine = audio.NewEngine(host, p.acc, audio.Options{
		InputDevice:     cfg.Audio.InputDevice,
		OutputDevice:    cfg.Audio.OutputDevice,
		Duplex:          cfg.Audio.Duplex,
		Monitor:         cfg.Audio.Monitor,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		LowLatency:      cfg.Audio.LowLatency,
	})
	p.engine.SetGateThreshold(cfg.Audio.GateThreshold)
	if cfg.Audio.GateEnabled {
		p.engine.EnableGate()
	}

	var analysisOpts []analysis.Option
	if cfg.Metrics.Enabled {
		p.metrics, err = observe.InitProvider(observe.ProviderConfig{
			ServiceVersion: build.GetBuildFlags().Version,
		})
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		m, err := observe.NewMetrics(p.metrics)
		if err != nil {
			return fmt.Errorf("pipeline: metrics: %w", err)
		}
		if p.metricsReg, err = observe.RegisterPipeline(p.metrics, p.acc, p.engine); err != nil {
			return fmt.Errorf("pipeline: metrics: %w", err)
		}
		analysisOpts = append(analysisOpts, analysis.WithRecorder(m))
	}

	if cfg.Recording.Enabled {
		p.recorder, err = record.NewWAVWriter(cfg.Recording.OutputDir, cfg.Audio.SampleRate, cfg.Recording.BitDepth)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		analysisOpts = append(analysisOpts, analysis.WithFrameObserver(p.recorder))
	}

	if cfg.Transport.WebSocketEnabled {
		p.ws = transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		analysisOpts = append(analysisOpts, analysis.WithSink(p.ws))
	}
	if cfg.Transport.LogEnabled {
		analysisOpts = append(analysisOpts, analysis.WithSink(transport.NewLoggingTransport(cfg.Transport.LogEvery)))
	}
	for _, s := range p.extraSinks {
		analysisOpts = append(analysisOpts, analysis.WithSink(s))
	}

	p.analyzer, err = analysis.NewAnalyzer(p.acc, analysis.Config{
		FrameSize:  cfg.Analysis.FrameSize,
		SampleRate: cfg.Audio.SampleRate,
		Window:     window,
		Features: analysis.FeatureConfig{
			RolloffPercent: cfg.Analysis.RolloffPercent,
			OnsetThreshold: cfg.Analysis.OnsetThreshold,
			OnsetRatio:     cfg.Analysis.OnsetRatio,
			OnsetCooldown:  cfg.Analysis.OnsetCooldown,
		},
	}, analysisOpts...)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if cfg.Transport.UDPEnabled {
		if p.udpSender, err = udp.NewSender(cfg.Transport.UDPTargetAddress); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		if p.publisher, err = udp.NewPublisher(cfg.Transport.UDPSendInterval, p.udpSender, p.analyzer); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	return nil
}

// Run configures and starts capture, then serves every enabled component
// until ctx is cancelled or one of them fails. Everything is closed before
// Run returns; a Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := p.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cfg := p.cfg.Audio
	if err := p.engine.Configure(cfg.SampleRate, cfg.Channels, cfg.MaxFramesPerSlice); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	logger.Infof("capturing from %q at %.0f Hz, latency %s", p.engine.DeviceName(), p.engine.SampleRate(), p.engine.Latency())

	if p.recorder != nil {
		if err := p.recorder.Start(""); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.analyzer.Run(gctx) })
	if p.ws != nil {
		g.Go(func() error { return p.ws.ListenAndServe(gctx) })
	}
	if p.publisher != nil {
		g.Go(func() error { return p.publisher.Run(gctx) })
	}
	if p.metrics != nil {
		g.Go(func() error { return p.metrics.Serve(gctx, p.cfg.Metrics.Address) })
	}
	g.Go(func() error { return p.watchFaults(gctx) })

	if _, err := p.engine.Start(); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("pipeline: %w", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		_, err := p.engine.Stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	st := p.acc.Stats()
	logger.Infof("stopped: %d frames analyzed, %d dropped, %d samples lost",
		p.analyzer.Frames(), st.DroppedFrames, st.LostSamples)
	return nil
}

// watchFaults logs sticky capture faults as they appear and clears them.
func (p *Pipeline) watchFaults(ctx context.Context) error {
	ticker := time.NewTicker(faultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if f := p.engine.ClearFaults(); f != 0 {
				st := p.acc.Stats()
				logger.Warnf("capture faults: %v (dropped frames %d, lost samples %d)", f, st.DroppedFrames, st.LostSamples)
			}
		}
	}
}

// Engine exposes the capture engine, for gate control.
func (p *Pipeline) Engine() *audio.Engine { return p.engine }

// Analyzer exposes the analyzer, for spectrum polling.
func (p *Pipeline) Analyzer() *analysis.Analyzer { return p.analyzer }

// Stats returns the accumulator counters.
func (p *Pipeline) Stats() buffer.Stats { return p.acc.Stats() }

func (p *Pipeline) close() error {
	var errs []error
	if err := p.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.closeOutputs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeOutputs releases everything downstream of the engine. Components
// that were never built are skipped.
func (p *Pipeline) closeOutputs() error {
	var errs []error
	if p.analyzer != nil {
		if err := p.analyzer.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if p.ws != nil {
		errs = append(errs, p.ws.Close())
	}
	if p.recorder != nil {
		errs = append(errs, p.recorder.Close())
	}
	if p.udpSender != nil {
		errs = append(errs, p.udpSender.Close())
	}
	if p.metricsReg != nil {
		errs = append(errs, p.metricsReg.Unregister())
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}
