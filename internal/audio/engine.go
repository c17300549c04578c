// SPDX-License-Identifier: MIT
/*
Package audio owns the capture side of the pipeline: the host audio stream
and its real-time render callback.

Each hardware period the callback extracts channel 0 of the interleaved
input into a pre-allocated mono buffer, optionally gates it, removes DC
bias in place and pushes the samples into the frame accumulator. The output
bus receives silence, or the filtered input when monitoring is enabled.

Real-time rules for the callback:
- Pre-allocated buffers only, no allocation
- No locks, no logging, no channel operations
- Failures are recorded as sticky Fault flags and counters
*/
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spectra/internal/buffer"
	"spectra/internal/dsp"
	"spectra/internal/log"

	"github.com/gordonklaus/portaudio"
)

// MaxSampleRate is the highest sample rate Configure accepts.
const MaxSampleRate = 384000

var logger = log.Component("capture")

// FrameSink receives the filtered mono samples of every period.
// *buffer.Accumulator implements it.
type FrameSink interface {
	Push(samples []float32) int
	Reset()
	Stats() buffer.Stats
}

var _ FrameSink = (*buffer.Accumulator)(nil)

// Options selects devices and stream behaviour. The zero value is not
// useful; start from DefaultOptions.
type Options struct {
	InputDevice     int  // DefaultDevice for the system default
	OutputDevice    int  // used when Duplex is set
	Duplex          bool // open the output bus alongside the input bus
	Monitor         bool // copy the filtered input to the output bus
	FramesPerBuffer int  // 0 lets the host pick the period size
	LowLatency      bool // use the device's low latency figures
}

// DefaultOptions captures from the default input with both buses enabled,
// like a remote I/O unit, and lets the host size each period.
func DefaultOptions() Options {
	return Options{
		InputDevice:  DefaultDevice,
		OutputDevice: DefaultDevice,
		Duplex:       true,
		LowLatency:   true,
	}
}

// EngineStats are callback counters, readable from any goroutine.
type EngineStats struct {
	Periods uint64 // callback invocations
	Samples uint64 // mono samples pushed to the sink
	Gated   uint64 // periods silenced by the noise gate
}

// Engine is the capture engine. Configure, Start, Stop and Close are
// control-plane calls and may be made from any goroutine; the callback
// never touches the control-plane lock.
type Engine struct {
	host Host
	sink FrameSink
	opts Options
	dc   *dsp.DCBlocker

	mu         sync.Mutex
	stream     Stream
	configured bool
	running    bool
	sampleRate float64
	channels   int
	maxFrames  int
	latency    time.Duration
	deviceName string

	// Callback state, fixed while the stream is open.
	scratch  []float32
	lastLost uint64

	gateEnabled   atomic.Bool
	gateThreshold atomic.Uint32 // float32 bits

	faults  atomic.Uint32
	periods atomic.Uint64
	samples atomic.Uint64
	gated   atomic.Uint64
}

// NewEngine returns an unconfigured engine that feeds sink.
func NewEngine(host Host, sink FrameSink, opts Options) *Engine {
	return &Engine{
		host: host,
		sink: sink,
		opts: opts,
		dc:   dsp.NewDCBlocker(),
	}
}

// Configure sets up the host stream: it activates the host, resolves the
// input device (and the output device in duplex mode), verifies the
// float32 format on both buses, pre-allocates callback scratch for
// maxFramesPerSlice samples and opens the stream with the render callback
// installed. Any failure undoes the steps already taken and leaves the
// engine unconfigured. Reconfiguring a stopped engine replaces its stream.
func (e *Engine) Configure(sampleRate float64, channels, maxFramesPerSlice int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return &ConfigurationError{Step: "state", Err: ErrRunning}
	}
	if e.configured {
		if err := e.teardownLocked(); err != nil {
			return &ConfigurationError{Step: "teardown", Err: err}
		}
	}

	switch {
	case sampleRate <= 0 || sampleRate > MaxSampleRate:
		return &ConfigurationError{Step: "validate", Err: fmt.Errorf("sample rate %v out of range (0, %d]", sampleRate, MaxSampleRate)}
	case channels < 1:
		return &ConfigurationError{Step: "validate", Err: fmt.Errorf("channel count must be at least 1, got %d", channels)}
	case maxFramesPerSlice < 1:
		return &ConfigurationError{Step: "validate", Err: fmt.Errorf("max frames per slice must be at least 1, got %d", maxFramesPerSlice)}
	case e.opts.FramesPerBuffer < 0 || e.opts.FramesPerBuffer > maxFramesPerSlice:
		return &ConfigurationError{Step: "validate", Err: fmt.Errorf("frames per buffer %d exceeds max frames per slice %d", e.opts.FramesPerBuffer, maxFramesPerSlice)}
	}

	if err := e.host.Activate(); err != nil {
		return &ConfigurationError{Step: "activate", Err: err}
	}
	abort := func(step string, err error) error {
		if derr := e.host.Deactivate(); derr != nil {
			logger.Warnf("deactivate after failed %s: %v", step, derr)
		}
		return &ConfigurationError{Step: step, Err: err}
	}

	in, err := e.host.InputDevice(e.opts.InputDevice)
	if err != nil {
		return abort("input device", err)
	}
	if in == nil || in.MaxInputChannels < channels {
		return abort("input device", fmt.Errorf("device %s has no input capability for %d channel(s)", deviceName(in), channels))
	}

	latency := in.DefaultHighInputLatency
	if e.opts.LowLatency {
		latency = in.DefaultLowInputLatency
	}

	framesPerBuffer := e.opts.FramesPerBuffer
	if framesPerBuffer == 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	if e.opts.Duplex {
		out, err := e.host.OutputDevice(e.opts.OutputDevice)
		if err != nil {
			return abort("output device", err)
		}
		if out == nil || out.MaxOutputChannels < channels {
			return abort("output device", fmt.Errorf("device %s has no output capability for %d channel(s)", deviceName(out), channels))
		}
		outLatency := out.DefaultHighOutputLatency
		if e.opts.LowLatency {
			outLatency = out.DefaultLowOutputLatency
		}
		params.Output = portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: channels,
			Latency:  outLatency,
		}
	}

	if err := e.host.IsFormatSupported(params); err != nil {
		return abort("stream format", err)
	}

	// Callback state must be in place before the host can invoke it.
	e.scratch = make([]float32, maxFramesPerSlice)
	e.channels = channels
	e.maxFrames = maxFramesPerSlice
	e.lastLost = e.sink.Stats().LostSamples

	stream, err := e.host.OpenStream(params, e.process)
	if err != nil {
		e.scratch = nil
		e.channels = 0
		e.maxFrames = 0
		return abort("open stream", err)
	}

	e.stream = stream
	e.sampleRate = sampleRate
	e.latency = latency
	e.deviceName = in.Name
	e.configured = true

	logger.Infof("configured %s: %.0f Hz, %d channel(s), max %d frames per slice, latency %v, duplex=%v",
		in.Name, sampleRate, channels, maxFramesPerSlice, latency, e.opts.Duplex)
	return nil
}

func deviceName(d *portaudio.DeviceInfo) string {
	if d == nil {
		return "<none>"
	}
	return fmt.Sprintf("%q", d.Name)
}

// Start begins data flow. The DC blocker state is reset so a restarted
// stream does not inherit the previous one's filter memory.
func (e *Engine) Start() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return StatusStopped, ErrNotConfigured
	}
	if e.running {
		return StatusAlreadyStarted, nil
	}

	e.dc.Reset()
	if err := e.stream.Start(); err != nil {
		return StatusStopped, fmt.Errorf("audio: start stream: %w", err)
	}
	e.running = true
	logger.Debugf("stream started")
	return StatusStarted, nil
}

// Stop halts data flow and discards the partially filled frame.
func (e *Engine) Stop() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() (Status, error) {
	if !e.running {
		return StatusAlreadyStopped, nil
	}
	if err := e.stream.Stop(); err != nil {
		return StatusStarted, fmt.Errorf("audio: stop stream: %w", err)
	}
	e.running = false
	e.sink.Reset()
	logger.Debugf("stream stopped")
	return StatusStopped, nil
}

// Close stops and closes the stream and returns the engine to the
// unconfigured state. Closing an unconfigured engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return nil
	}
	return e.teardownLocked()
}

func (e *Engine) teardownLocked() error {
	if _, err := e.stopLocked(); err != nil {
		return err
	}
	if err := e.stream.Close(); err != nil {
		return fmt.Errorf("audio: close stream: %w", err)
	}
	e.stream = nil
	e.configured = false
	e.scratch = nil

	if err := e.host.Deactivate(); err != nil {
		return fmt.Errorf("audio: deactivate host: %w", err)
	}
	return nil
}

// Configured reports whether the engine holds an open stream.
func (e *Engine) Configured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}

// Running reports whether data is flowing.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SampleRate returns the configured sample rate, or 0.
func (e *Engine) SampleRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

// Latency returns the input latency requested from the device.
func (e *Engine) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// DeviceName returns the name of the configured input device.
func (e *Engine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceName
}

// Faults returns the sticky fault flags raised so far.
func (e *Engine) Faults() Fault {
	return Fault(e.faults.Load())
}

// ClearFaults resets the fault flags and returns the ones that were set.
func (e *Engine) ClearFaults() Fault {
	return Fault(e.faults.Swap(0))
}

// Stats returns the callback counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Periods: e.periods.Load(),
		Samples: e.samples.Load(),
		Gated:   e.gated.Load(),
	}
}

func (e *Engine) raise(f Fault) {
	for {
		old := e.faults.Load()
		if old&uint32(f) == uint32(f) || e.faults.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// process is the render callback. It runs on the host's real-time thread.
func (e *Engine) process(in, out []float32, flags portaudio.StreamCallbackFlags) {
	e.periods.Add(1)

	if flags&portaudio.InputOverflow != 0 {
		e.raise(FaultInputOverflow)
	}
	if flags&portaudio.OutputUnderflow != 0 {
		e.raise(FaultOutputUnderflow)
	}

	ch := e.channels
	frames := len(in) / ch
	if frames > e.maxFrames {
		frames = e.maxFrames
		e.raise(FaultSliceOverrun)
	}

	mono := e.scratch[:frames]
	for i := range mono {
		mono[i] = in[i*ch]
	}

	if e.gate(mono) {
		e.gated.Add(1)
	}
	e.dc.Process(mono)
	e.sink.Push(mono)
	e.samples.Add(uint64(frames))

	if lost := e.sink.Stats().LostSamples; lost != e.lastLost {
		e.lastLost = lost
		e.raise(FaultFrameLoss)
	}

	if len(out) == 0 {
		return
	}
	if !e.opts.Monitor {
		clear(out)
		return
	}
	n := min(frames, len(out)/ch)
	for i := range n {
		for c := range ch {
			out[i*ch+c] = mono[i]
		}
	}
	clear(out[n*ch:])
}
