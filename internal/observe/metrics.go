// SPDX-License-Identifier: MIT
// Package observe exports pipeline metrics through OpenTelemetry. The
// analyzer records timings through Metrics; capture and accumulator counters
// are read from their atomic stats at collection time, so nothing is
// recorded from the real-time callback.
package observe

import (
	"context"
	"time"

	"spectra/internal/analysis"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "spectra"

// analysisBuckets are in seconds, sized for per-frame work of a few
// milliseconds and frame latencies up to a few frames.
var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// Metrics holds the instruments the analyzer records into.
type Metrics struct {
	AnalysisDuration metric.Float64Histogram
	FrameLatency     metric.Float64Histogram
	Frames           metric.Int64Counter

	// SinkErrors counts failed sends, with attribute "sink".
	SinkErrors metric.Int64Counter
}

var _ analysis.Recorder = (*Metrics)(nil)

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnalysisDuration, err = m.Float64Histogram("spectra.analysis.duration",
		metric.WithDescription("Time to transform and extract features from one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameLatency, err = m.Float64Histogram("spectra.frame.latency",
		metric.WithDescription("Time from frame completion in the capture callback to the end of analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("spectra.analysis.frames",
		metric.WithDescription("Frames analyzed."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("spectra.sink.errors",
		metric.WithDescription("Failed result deliveries by sink."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordAnalysis implements analysis.Recorder. A zero frameLatency means the
// frame carried no completion time and is not recorded.
func (m *Metrics) RecordAnalysis(ctx context.Context, d, frameLatency time.Duration) {
	m.Frames.Add(ctx, 1)
	m.AnalysisDuration.Record(ctx, d.Seconds())
	if frameLatency > 0 {
		m.FrameLatency.Record(ctx, frameLatency.Seconds())
	}
}

// RecordSinkError implements analysis.Recorder.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
