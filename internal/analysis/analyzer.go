// SPDX-License-Identifier: MIT
/*
Package analysis is the consumer side of the capture pipeline.

The Analyzer runs on its own goroutine. For every frame published by the
accumulator it copies the samples into a private work buffer, releases the
frame, applies the analysis window, runs the forward FFT, converts the
spectrum to decibels, extracts features and hands an immutable Result to
each sink. Nothing here runs on the real-time thread.
*/
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spectra/internal/buffer"
	"spectra/internal/fft"
	"spectra/internal/log"
)

var logger = log.Component("analysis")

// Result is the analysis of one frame. It is never modified after it is
// handed to the sinks.
type Result struct {
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	SampleRate float64   `json:"sample_rate"`
	FrameSize  int       `json:"frame_size"`
	Decibels   []float32 `json:"decibels"`
	Features   Features  `json:"features"`
}

// Config selects the transform and feature settings.
type Config struct {
	FrameSize  int
	SampleRate float64
	Window     fft.WindowFunc
	Features   FeatureConfig
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSink adds a result sink.
func WithSink(s Sink) Option {
	return func(a *Analyzer) { a.sinks = append(a.sinks, s) }
}

// WithFrameObserver adds an observer of raw frames.
func WithFrameObserver(o FrameObserver) Option {
	return func(a *Analyzer) { a.observers = append(a.observers, o) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// Analyzer turns frames into Results.
type Analyzer struct {
	source     FrameSource
	frameSize  int
	sampleRate float64

	transform *fft.Transform
	window    *fft.Window
	features  *FeatureExtractor
	raw       []float32 // private copy of the frame
	work      []float32 // windowed transform input
	spectrum  fft.Spectrum

	sinks     []Sink
	observers []FrameObserver
	recorder  Recorder

	// latest is shared with SpectrumProvider readers.
	latestMu  sync.RWMutex
	latest    []float32
	latestSeq uint64
	hasLatest bool

	frames     atomic.Uint64
	sinkErrors atomic.Uint64
}

var _ SpectrumProvider = (*Analyzer)(nil)

// NewAnalyzer builds an analyzer that reads frames from source. The frame
// size must be a power of two.
func NewAnalyzer(source FrameSource, cfg Config, opts ...Option) (*Analyzer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("analysis: sample rate must be positive, got %v", cfg.SampleRate)
	}
	tr, err := fft.NewWithSize(cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	a := &Analyzer{
		source:     source,
		frameSize:  cfg.FrameSize,
		sampleRate: cfg.SampleRate,
		transform:  tr,
		window:     fft.NewWindow(cfg.Window, cfg.FrameSize),
		features:   NewFeatureExtractor(cfg.FrameSize, cfg.SampleRate, cfg.Features),
		raw:        make([]float32, cfg.FrameSize),
		work:       make([]float32, cfg.FrameSize),
		spectrum:   fft.NewSpectrum(cfg.FrameSize),
		latest:     make([]float32, cfg.FrameSize/2),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}

	logger.Infof("analyzer ready: frame size %d, %.0f Hz, %d bins of %.2f Hz, window %v, %d sink(s)",
		a.frameSize, a.sampleRate, a.Bins(), a.sampleRate/float64(a.frameSize), cfg.Window, len(a.sinks))
	return a, nil
}

// Run processes frames until ctx is cancelled. It returns nil on
// cancellation and a non-nil error only when the frame source misbehaves.
func (a *Analyzer) Run(ctx context.Context) error {
	for {
		frame, err := a.source.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("analysis: acquire frame: %w", err)
		}

		res, err := a.ProcessFrame(ctx, frame)
		if err != nil {
			return err
		}
		a.dispatch(ctx, res)
	}
}

// ProcessFrame analyzes frame and releases it back to the source. It is
// the body of Run, exported for callers that drive the analyzer
// themselves.
func (a *Analyzer) ProcessFrame(ctx context.Context, frame *buffer.Frame) (*Result, error) {
	start := time.Now()

	if len(frame.Samples) != a.frameSize {
		_ = a.source.Release(frame)
		return nil, &fft.FrameLengthError{Got: len(frame.Samples), Want: a.frameSize}
	}
	copy(a.raw, frame.Samples)
	seq, completed := frame.Seq, frame.Completed

	for _, o := range a.observers {
		if err := o.ObserveFrame(frame); err != nil {
			logger.Warnf("frame observer: %v", err)
		}
	}
	if err := a.source.Release(frame); err != nil {
		return nil, fmt.Errorf("analysis: release frame %d: %w", seq, err)
	}

	// Time-domain features use the unwindowed copy.
	copy(a.work, a.raw)
	a.window.Apply(a.work)
	if err := a.transform.TransformInto(&a.spectrum, a.work); err != nil {
		return nil, fmt.Errorf("analysis: transform frame %d: %w", seq, err)
	}

	db := make([]float32, a.spectrum.Bins())
	if err := fft.MagnitudeDecibelsInto(db, a.spectrum); err != nil {
		return nil, fmt.Errorf("analysis: decibels frame %d: %w", seq, err)
	}

	res := &Result{
		Seq:        seq,
		Timestamp:  stamp(completed),
		SampleRate: a.sampleRate,
		FrameSize:  a.frameSize,
		Decibels:   db,
		Features:   a.features.Extract(a.raw, a.spectrum),
	}

	a.latestMu.Lock()
	copy(a.latest, db)
	a.latestSeq = seq
	a.hasLatest = true
	a.latestMu.Unlock()

	a.frames.Add(1)
	var latency time.Duration
	if !completed.IsZero() {
		latency = time.Since(completed)
	}
	a.recorder.RecordAnalysis(ctx, time.Since(start), latency)
	return res, nil
}

func (a *Analyzer) dispatch(ctx context.Context, res *Result) {
	for _, s := range a.sinks {
		if err := s.Send(res); err != nil {
			a.sinkErrors.Add(1)
			a.recorder.RecordSinkError(ctx, s.Name())
			logger.Warnf("sink %s: frame %d: %v", s.Name(), res.Seq, err)
		}
	}
}

// Close closes every sink and returns the first error.
func (a *Analyzer) Close() error {
	var first error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("analysis: close sink %s: %w", s.Name(), err)
		}
	}
	return first
}

// Reset clears inter-frame feature state.
func (a *Analyzer) Reset() {
	a.features.Reset()
}

// Frames returns the number of frames analyzed.
func (a *Analyzer) Frames() uint64 { return a.frames.Load() }

// SinkErrors returns the number of failed sink sends.
func (a *Analyzer) SinkErrors() uint64 { return a.sinkErrors.Load() }

// LatestDecibelsInto implements SpectrumProvider.
func (a *Analyzer) LatestDecibelsInto(dst []float32) (uint64, bool, error) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()

	if len(dst) != len(a.latest) {
		return 0, false, fmt.Errorf("destination slice length %d does not match required length %d", len(dst), len(a.latest))
	}
	if !a.hasLatest {
		return 0, false, nil
	}
	copy(dst, a.latest)
	return a.latestSeq, true, nil
}

// Bins returns the number of spectrum bins.
func (a *Analyzer) Bins() int { return a.frameSize / 2 }

// BinFrequency returns the centre frequency of bin in Hz.
func (a *Analyzer) BinFrequency(bin int) float64 {
	return a.transform.BinFrequency(bin, a.sampleRate)
}

// SampleRate returns the analysis sample rate.
func (a *Analyzer) SampleRate() float64 { return a.sampleRate }

// FrameSize returns the analysis frame size.
func (a *Analyzer) FrameSize() int { return a.frameSize }

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
