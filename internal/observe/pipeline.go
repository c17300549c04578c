// SPDX-License-Identifier: MIT
package observe

import (
	"context"

	"spectra/internal/audio"
	"spectra/internal/buffer"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BufferStats is the accumulator view the observer reads.
type BufferStats interface {
	Stats() buffer.Stats
}

// CaptureStats is the engine view the observer reads.
type CaptureStats interface {
	Stats() audio.EngineStats
	Faults() audio.Fault
}

var (
	_ BufferStats  = (*buffer.Accumulator)(nil)
	_ CaptureStats = (*audio.Engine)(nil)
)

var faultAttrs = []struct {
	fault audio.Fault
	set   attribute.Set
}{
	{audio.FaultInputOverflow, attribute.NewSet(attribute.String("fault", "input-overflow"))},
	{audio.FaultOutputUnderflow, attribute.NewSet(attribute.String("fault", "output-underflow"))},
	{audio.FaultSliceOverrun, attribute.NewSet(attribute.String("fault", "slice-overrun"))},
	{audio.FaultFrameLoss, attribute.NewSet(attribute.String("fault", "frame-loss"))},
}

// RegisterPipeline registers observable instruments that read buf and capture
// on every collection. Either may be nil. Unregister the returned
// registration on shutdown.
func RegisterPipeline(mp metric.MeterProvider, buf BufferStats, capture CaptureStats) (metric.Registration, error) {
	m := mp.Meter(meterName)

	produced, err := m.Int64ObservableCounter("spectra.frames.produced",
		metric.WithDescription("Frames completed by the capture side."))
	if err != nil {
		return nil, err
	}
	consumed, err := m.Int64ObservableCounter("spectra.frames.consumed",
		metric.WithDescription("Frames released by the analyzer."))
	if err != nil {
		return nil, err
	}
	dropped, err := m.Int64ObservableCounter("spectra.frames.dropped",
		metric.WithDescription("Frames discarded because every slot was in flight."))
	if err != nil {
		return nil, err
	}
	lost, err := m.Int64ObservableCounter("spectra.samples.lost",
		metric.WithDescription("Samples discarded by the accumulator."))
	if err != nil {
		return nil, err
	}
	clipped, err := m.Int64ObservableCounter("spectra.bursts.clipped",
		metric.WithDescription("Bursts whose remainder was dropped at a frame boundary."))
	if err != nil {
		return nil, err
	}
	inFlight, err := m.Int64ObservableGauge("spectra.frames.in_flight",
		metric.WithDescription("Completed frames not yet released."))
	if err != nil {
		return nil, err
	}
	periods, err := m.Int64ObservableCounter("spectra.capture.periods",
		metric.WithDescription("Capture callback invocations."))
	if err != nil {
		return nil, err
	}
	samples, err := m.Int64ObservableCounter("spectra.capture.samples",
		metric.WithDescription("Mono samples delivered by the capture callback."))
	if err != nil {
		return nil, err
	}
	gated, err := m.Int64ObservableCounter("spectra.capture.gated",
		metric.WithDescription("Periods silenced by the noise gate."))
	if err != nil {
		return nil, err
	}
	faults, err := m.Int64ObservableGauge("spectra.capture.fault",
		metric.WithDescription("1 while a sticky capture fault is raised."))
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if buf != nil {
			st := buf.Stats()
			o.ObserveInt64(produced, int64(st.Produced))
			o.ObserveInt64(consumed, int64(st.Consumed))
			o.ObserveInt64(dropped, int64(st.DroppedFrames))
			o.ObserveInt64(lost, int64(st.LostSamples))
			o.ObserveInt64(clipped, int64(st.ClippedBursts))
			o.ObserveInt64(inFlight, int64(st.InFlight()))
		}
		if capture != nil {
			st := capture.Stats()
			o.ObserveInt64(periods, int64(st.Periods))
			o.ObserveInt64(samples, int64(st.Samples))
			o.ObserveInt64(gated, int64(st.Gated))
			f := capture.Faults()
			for _, fa := range faultAttrs {
				var v int64
				if f.Has(fa.fault) {
					v = 1
				}
				o.ObserveInt64(faults, v, metric.WithAttributeSet(fa.set))
			}
		}
		return nil
	}, produced, consumed, dropped, lost, clipped, inFlight, periods, samples, gated, faults)
}
