// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"time"

	"spectra/internal/buffer"
)

// FrameSource hands out completed frames in arrival order.
// *buffer.Accumulator implements it.
type FrameSource interface {
	Acquire(ctx context.Context) (*buffer.Frame, error)
	Release(frame *buffer.Frame) error
}

var _ FrameSource = (*buffer.Accumulator)(nil)

// Sink receives every analysis result, in frame order. A Result is never
// mutated after it is sent, so sinks may keep it. Send is called from the
// analyzer goroutine and should not block for long.
type Sink interface {
	Name() string
	Send(r *Result) error
	Close() error
}

// FrameObserver sees each time-domain frame before it is released back to
// the capture side. It must copy anything it keeps.
type FrameObserver interface {
	ObserveFrame(f *buffer.Frame) error
}

// SpectrumProvider exposes the most recent decibel spectrum to pollers
// such as the UDP publisher.
type SpectrumProvider interface {
	// LatestDecibelsInto copies the latest spectrum into dst, which must have
	// Bins() elements, and returns its frame sequence number. ok is false
	// until the first frame has been analyzed.
	LatestDecibelsInto(dst []float32) (seq uint64, ok bool, err error)
	Bins() int
	BinFrequency(bin int) float64
	SampleRate() float64
	FrameSize() int
}

// Recorder receives analyzer measurements. The observe package implements
// it with OpenTelemetry instruments.
type Recorder interface {
	RecordAnalysis(ctx context.Context, d time.Duration, frameLatency time.Duration)
	RecordSinkError(ctx context.Context, sink string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAnalysis(context.Context, time.Duration, time.Duration) {}
func (nopRecorder) RecordSinkError(context.Context, string)                      {}
