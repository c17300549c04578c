// SPDX-License-Identifier: MIT
/*
Package dsp holds the sample-domain filters that run inside the real-time
capture callback.

Everything here must stay allocation-free and branch-light: the callers
invoke these filters once per hardware period on the audio thread.
*/
package dsp

// DefaultPole is the feedback coefficient of the first-order DC blocker.
// At 16 kHz it places the -3 dB corner at roughly 64 Hz.
const DefaultPole float32 = 0.975

// DCBlocker is a single-pole high-pass filter that removes a slowly
// varying DC bias from one logical sample stream:
//
//	y[n] = x[n] - x[n-1] + pole*y[n-1]
//
// The zero value is not usable; construct with NewDCBlocker. A DCBlocker
// carries state between calls and must not be shared between streams.
type DCBlocker struct {
	pole  float32
	xPrev float32 // x[n-1]
	yPrev float32 // y[n-1]
}

// NewDCBlocker returns a filter using DefaultPole.
func NewDCBlocker() *DCBlocker {
	return &DCBlocker{pole: DefaultPole}
}

// NewDCBlockerWithPole returns a filter with an explicit pole. Values
// closer to 1 lower the cutoff; the filter is stable for 0 <= pole < 1.
func NewDCBlockerWithPole(pole float32) *DCBlocker {
	return &DCBlocker{pole: pole}
}

// Process filters samples in place.
func (d *DCBlocker) Process(samples []float32) {
	x1, y1, pole := d.xPrev, d.yPrev, d.pole
	for i, x := range samples {
		y := x - x1 + pole*y1
		samples[i] = y
		x1, y1 = x, y
	}
	d.xPrev, d.yPrev = x1, y1
}

// Reset clears the filter memory. Call it only when the stream restarts.
func (d *DCBlocker) Reset() {
	d.xPrev, d.yPrev = 0, 0
}

// Pole returns the feedback coefficient.
func (d *DCBlocker) Pole() float32 {
	return d.pole
}
