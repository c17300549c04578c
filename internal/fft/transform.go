// SPDX-License-Identifier: MIT
/*
Package fft implements the forward real FFT used by the analysis side of
the capture pipeline.

A real frame of N samples is packed into N/2 complex values, transformed
with a half-length complex FFT and then split into the spectrum of the
real sequence using a precomputed twiddle table. The output follows the
packed split-complex layout of a split-radix real FFT:

	Real[0]      DC
	Imag[0]      Nyquist (packed slot, always forced to 0 on output)
	Real[k]      2*Re(X[k]) for 0 < k < N/2
	Imag[k]      2*Im(X[k]) for 0 < k < N/2

Both halves are then multiplied by 1/(2N), so a full scale sinusoid that
lands exactly on bin k produces |X[k]| = 0.5.

A Transform owns its plan and scratch buffers. It is not safe for
concurrent use; give each consumer goroutine its own instance.
*/
package fft

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"spectra/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DecibelFloor is added to every squared magnitude before the log so an
// all-zero bin maps to a finite value (about -128 dB).
const DecibelFloor = 1.5849e-13

var (
	// ErrNotConfigured is returned by Transform before a successful Setup.
	ErrNotConfigured = errors.New("fft: transform used before setup")

	// ErrInvalidFrameSize matches every *InvalidFrameSizeError.
	ErrInvalidFrameSize = errors.New("fft: invalid frame size")
)

// InvalidFrameSizeError reports a frame size that cannot be split into a
// power-of-two half-length transform.
type InvalidFrameSizeError struct {
	Size int
}

func (e *InvalidFrameSizeError) Error() string {
	return fmt.Sprintf("fft: invalid frame size %d: must be a power of two >= 2", e.Size)
}

// Is lets errors.Is(err, ErrInvalidFrameSize) match.
func (e *InvalidFrameSizeError) Is(target error) bool {
	return target == ErrInvalidFrameSize
}

// FrameLengthError reports a frame whose length differs from the
// configured transform size.
type FrameLengthError struct {
	Got, Want int
}

func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("fft: frame has %d samples, transform is configured for %d", e.Got, e.Want)
}

// Spectrum is the packed split-complex output of a forward transform.
type Spectrum struct {
	Real    []float32 // len frameSize/2
	Imag    []float32 // len frameSize/2, Imag[0] == 0
	Nyquist float32   // scaled Nyquist value that the packed layout stores in Imag[0]
}

// NewSpectrum allocates a spectrum sized for frameSize.
func NewSpectrum(frameSize int) Spectrum {
	return Spectrum{
		Real: make([]float32, frameSize/2),
		Imag: make([]float32, frameSize/2),
	}
}

// Bins returns the number of frequency bins.
func (s Spectrum) Bins() int {
	return len(s.Real)
}

// Transform is a reusable forward real FFT plan.
type Transform struct {
	frameSize int
	log2Half  int     // log2(frameSize/2)
	norm      float64 // 1/(2*frameSize)

	plan    *fourier.CmplxFFT
	twiddle []complex128 // exp(-2πik/N), k < N/2
	packed  []complex128 // frame viewed as N/2 complex values
	coeffs  []complex128 // half-length FFT output
}

// New returns an unconfigured transform. Call Setup before Transform.
func New() *Transform {
	return &Transform{}
}

// NewWithSize returns a transform already set up for frameSize.
func NewWithSize(frameSize int) (*Transform, error) {
	t := New()
	if err := t.Setup(frameSize); err != nil {
		return nil, err
	}
	return t, nil
}

// Setup builds the plan and twiddle table for frameSize. Calling it again
// with the same size is a no-op; a different size rebuilds everything. On
// error the previous configuration is kept.
func (t *Transform) Setup(frameSize int) error {
	if frameSize < 2 || !bitint.IsPowerOfTwo(frameSize) {
		return &InvalidFrameSizeError{Size: frameSize}
	}
	if frameSize == t.frameSize && t.plan != nil {
		return nil
	}

	half := frameSize / 2
	log2Half, _ := bitint.Log2(half)

	twiddle := make([]complex128, half)
	for k := range twiddle {
		s, c := math.Sincos(-2 * math.Pi * float64(k) / float64(frameSize))
		twiddle[k] = complex(c, s)
	}

	t.frameSize = frameSize
	t.log2Half = log2Half
	t.norm = 1 / float64(2*frameSize)
	t.plan = fourier.NewCmplxFFT(half)
	t.twiddle = twiddle
	t.packed = make([]complex128, half)
	t.coeffs = make([]complex128, half)
	return nil
}

// FrameSize returns the configured frame size, or 0 before Setup.
func (t *Transform) FrameSize() int {
	return t.frameSize
}

// Stages returns log2(frameSize/2), the depth of the half-length transform.
func (t *Transform) Stages() int {
	return t.log2Half
}

// Transform runs the forward FFT on frame and returns a newly allocated
// spectrum. Use TransformInto on hot paths.
func (t *Transform) Transform(frame []float32) (Spectrum, error) {
	if t.plan == nil {
		return Spectrum{}, ErrNotConfigured
	}
	spectrum := NewSpectrum(t.frameSize)
	if err := t.TransformInto(&spectrum, frame); err != nil {
		return Spectrum{}, err
	}
	return spectrum, nil
}

// TransformInto runs the forward FFT on frame and writes the result into
// dst, reusing its buffers when they already have the right length.
func (t *Transform) TransformInto(dst *Spectrum, frame []float32) error {
	if t.plan == nil {
		return ErrNotConfigured
	}
	if len(frame) != t.frameSize {
		return &FrameLengthError{Got: len(frame), Want: t.frameSize}
	}

	half := t.frameSize / 2
	if len(dst.Real) != half {
		dst.Real = make([]float32, half)
	}
	if len(dst.Imag) != half {
		dst.Imag = make([]float32, half)
	}

	for m := range t.packed {
		t.packed[m] = complex(float64(frame[2*m]), float64(frame[2*m+1]))
	}
	t.plan.Coefficients(t.coeffs, t.packed)

	// Packed output carries a factor of two, so the effective scale on
	// X[k] is 2 * 1/(2N).
	scale := 2 * t.norm

	z0 := t.coeffs[0]
	dst.Real[0] = float32((real(z0) + imag(z0)) * scale)
	dst.Nyquist = float32((real(z0) - imag(z0)) * scale)
	dst.Imag[0] = 0

	for k := 1; k < half; k++ {
		zk := t.coeffs[k]
		zc := cmplx.Conj(t.coeffs[half-k])
		even := (zk + zc) * 0.5
		odd := (zk - zc) * complex(0, -0.5)
		x := even + t.twiddle[k]*odd
		dst.Real[k] = float32(real(x) * scale)
		dst.Imag[k] = float32(imag(x) * scale)
	}
	return nil
}

// BinFrequency returns the centre frequency in Hz of bin for the
// configured frame size.
func (t *Transform) BinFrequency(bin int, sampleRate float64) float64 {
	if t.frameSize == 0 || bin < 0 || bin >= t.frameSize/2 {
		return 0
	}
	return float64(bin) * sampleRate / float64(t.frameSize)
}

// MagnitudeDecibels returns 10*log10(|X[k]|² + DecibelFloor) for every bin.
func MagnitudeDecibels(spectrum Spectrum) []float32 {
	dst := make([]float32, spectrum.Bins())
	_ = MagnitudeDecibelsInto(dst, spectrum)
	return dst
}

// MagnitudeDecibelsInto writes the decibel magnitude of spectrum into dst,
// which must have exactly spectrum.Bins() elements.
func MagnitudeDecibelsInto(dst []float32, spectrum Spectrum) error {
	if len(dst) != spectrum.Bins() || len(spectrum.Imag) != spectrum.Bins() {
		return fmt.Errorf("fft: decibel buffer has %d bins, spectrum has %d", len(dst), spectrum.Bins())
	}
	for k := range dst {
		re, im := float64(spectrum.Real[k]), float64(spectrum.Imag[k])
		dst[k] = float32(10 * math.Log10(re*re+im*im+DecibelFloor))
	}
	return nil
}
