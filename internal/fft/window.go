// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the analysis window applied before the transform.
type WindowFunc int

// Available window functions. Rectangular leaves the frame untouched,
// which matches the unwindowed reference analysis.
const (
	Rectangular WindowFunc = iota
	BartlettHann
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = map[WindowFunc]string{
	Rectangular:     "none",
	BartlettHann:    "bartletthann",
	Blackman:        "blackman",
	BlackmanNuttall: "blackmannuttall",
	Hann:            "hann",
	Hamming:         "hamming",
	Lanczos:         "lanczos",
	Nuttall:         "nuttall",
}

func (w WindowFunc) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WindowFunc(%d)", int(w))
}

// ParseWindowFunc converts a name (case-insensitive) to a WindowFunc.
// Unknown names return Rectangular and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "", "none", "rectangular":
		return Rectangular, nil
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Rectangular, fmt.Errorf("fft: unknown window function %q", name)
	}
}

// Window is a precomputed coefficient table for one frame size.
type Window struct {
	fn     WindowFunc
	coeffs []float32
}

// NewWindow computes the coefficients of fn for frames of size n.
func NewWindow(fn WindowFunc, n int) *Window {
	c := make([]float64, n)
	for i := range c {
		c[i] = 1
	}
	switch fn {
	case BartlettHann:
		window.BartlettHann(c)
	case Blackman:
		window.Blackman(c)
	case BlackmanNuttall:
		window.BlackmanNuttall(c)
	case Hann:
		window.Hann(c)
	case Hamming:
		window.Hamming(c)
	case Lanczos:
		window.Lanczos(c)
	case Nuttall:
		window.Nuttall(c)
	}

	coeffs := make([]float32, n)
	for i, v := range c {
		coeffs[i] = float32(v)
	}
	return &Window{fn: fn, coeffs: coeffs}
}

// Func returns the window function the table was built from.
func (w *Window) Func() WindowFunc {
	return w.fn
}

// Apply multiplies frame by the window in place. A rectangular window
// is a no-op.
func (w *Window) Apply(frame []float32) {
	if w.fn == Rectangular {
		return
	}
	n := min(len(frame), len(w.coeffs))
	for i := range n {
		frame[i] *= w.coeffs[i]
	}
}
