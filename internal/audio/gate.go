// SPDX-License-Identifier: MIT
package audio

import (
	"math"
)

// The noise gate silences a whole period when its peak amplitude stays
// below the threshold. Gated periods still reach the accumulator as zeros
// so frame timing is unaffected. The gate is off by default.

func (e *Engine) EnableGate() {
	e.gateEnabled.Store(true)
}

func (e *Engine) DisableGate() {
	e.gateEnabled.Store(false)
}

// GateEnabled reports whether the gate is active.
func (e *Engine) GateEnabled() bool {
	return e.gateEnabled.Load()
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	e.gateThreshold.Store(math.Float32bits(float32(threshold)))
}

// GetGateThreshold returns the current noise gate threshold.
func (e *Engine) GetGateThreshold() float64 {
	return float64(math.Float32frombits(e.gateThreshold.Load()))
}

// peakAmplitude returns max |x| over samples. math.Abs clears the sign bit
// so the loop has no data-dependent branch on the sign.
func peakAmplitude(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	return peak
}

// gate zeroes samples in place when the gate is enabled and the period's
// peak is below the threshold. It reports whether the period was silenced.
func (e *Engine) gate(samples []float32) bool {
	if !e.gateEnabled.Load() {
		return false
	}
	if peakAmplitude(samples) >= math.Float32frombits(e.gateThreshold.Load()) {
		return false
	}
	clear(samples)
	return true
}
