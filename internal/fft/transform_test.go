// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	dspfft "github.com/mjibson/go-dsp/fft"
)

const (
	testFrameSize  = 4096
	testSampleRate = 16000
)

func sineFrame(n int, freq, sampleRate, amplitude float64) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return frame
}

func binSine(n, bin int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * float64(bin) * float64(i) / float64(n)))
	}
	return frame
}

func peakBin(db []float32) int {
	peak := 0
	for k := range db {
		if db[k] > db[peak] {
			peak = k
		}
	}
	return peak
}

func TestTransformBeforeSetup(t *testing.T) {
	tr := New()
	if _, err := tr.Transform(make([]float32, 8)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Transform on fresh instance: got %v, want ErrNotConfigured", err)
	}

	spectrum := NewSpectrum(8)
	if err := tr.TransformInto(&spectrum, make([]float32, 8)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TransformInto on fresh instance: got %v, want ErrNotConfigured", err)
	}
}

func TestSetupRejectsInvalidSizes(t *testing.T) {
	for _, n := range []int{-8, 0, 1, 3, 100, 4160} {
		tr := New()
		err := tr.Setup(n)
		if !errors.Is(err, ErrInvalidFrameSize) {
			t.Errorf("Setup(%d): got %v, want ErrInvalidFrameSize", n, err)
		}
		var sizeErr *InvalidFrameSizeError
		if !errors.As(err, &sizeErr) || sizeErr.Size != n {
			t.Errorf("Setup(%d): expected *InvalidFrameSizeError carrying the size, got %#v", n, err)
		}
		if tr.FrameSize() != 0 {
			t.Errorf("Setup(%d) left frame size %d, want 0", n, tr.FrameSize())
		}
	}
}

func TestSetupKeepsPreviousPlanOnError(t *testing.T) {
	tr, err := NewWithSize(1024)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Setup(1000); err == nil {
		t.Fatal("expected error for 1000")
	}
	if tr.FrameSize() != 1024 || tr.Stages() != 9 {
		t.Fatalf("configuration changed after failed setup: size=%d stages=%d", tr.FrameSize(), tr.Stages())
	}
	if _, err := tr.Transform(make([]float32, 1024)); err != nil {
		t.Fatalf("transform after failed re-setup: %v", err)
	}
}

func TestSetupRebuildsOnSizeChange(t *testing.T) {
	tr, err := NewWithSize(256)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Setup(2048); err != nil {
		t.Fatal(err)
	}

	spectrum, err := tr.Transform(binSine(2048, 100))
	if err != nil {
		t.Fatal(err)
	}
	if spectrum.Bins() != 1024 {
		t.Fatalf("bins = %d, want 1024", spectrum.Bins())
	}
	if got := peakBin(MagnitudeDecibels(spectrum)); got != 100 {
		t.Fatalf("peak after resize at bin %d, want 100", got)
	}

	var lengthErr *FrameLengthError
	if _, err := tr.Transform(make([]float32, 256)); !errors.As(err, &lengthErr) {
		t.Fatalf("old-size frame: got %v, want *FrameLengthError", err)
	} else if lengthErr.Got != 256 || lengthErr.Want != 2048 {
		t.Fatalf("FrameLengthError = %+v", lengthErr)
	}
}

func TestZeroFrameGivesFloor(t *testing.T) {
	floor := float32(10 * math.Log10(DecibelFloor))

	for n := 2; n <= 1<<14; n <<= 1 {
		tr, err := NewWithSize(n)
		if err != nil {
			t.Fatalf("NewWithSize(%d): %v", n, err)
		}
		spectrum, err := tr.Transform(make([]float32, n))
		if err != nil {
			t.Fatalf("Transform(%d): %v", n, err)
		}
		if len(spectrum.Real) != n/2 || len(spectrum.Imag) != n/2 {
			t.Fatalf("n=%d: lengths real=%d imag=%d, want %d", n, len(spectrum.Real), len(spectrum.Imag), n/2)
		}
		for k := range spectrum.Real {
			if spectrum.Real[k] != 0 || spectrum.Imag[k] != 0 {
				t.Fatalf("n=%d: bin %d = (%v, %v), want 0", n, k, spectrum.Real[k], spectrum.Imag[k])
			}
		}
		for k, v := range MagnitudeDecibels(spectrum) {
			if v != floor {
				t.Fatalf("n=%d: dB[%d] = %v, want floor %v", n, k, v, floor)
			}
		}
	}
}

func TestNyquistImagIsAlwaysZero(t *testing.T) {
	for n := 4; n <= 4096; n <<= 1 {
		tr, _ := NewWithSize(n)
		frame := make([]float32, n)
		for i := range frame {
			// Alternating sign puts all energy at Nyquist.
			frame[i] = float32(1 - 2*(i%2))
		}
		spectrum, err := tr.Transform(frame)
		if err != nil {
			t.Fatal(err)
		}
		if spectrum.Imag[0] != 0 {
			t.Fatalf("n=%d: Imag[0] = %v, want 0", n, spectrum.Imag[0])
		}
		if math.Abs(float64(spectrum.Nyquist)-1) > 1e-5 {
			t.Fatalf("n=%d: Nyquist = %v, want 1", n, spectrum.Nyquist)
		}
		if math.Abs(float64(spectrum.Real[0])) > 1e-5 {
			t.Fatalf("n=%d: DC = %v, want 0", n, spectrum.Real[0])
		}
	}
}

func TestSinePeaksAtItsBin(t *testing.T) {
	tests := []struct {
		name string
		n    int
		bin  int
	}{
		{"Low bin", 64, 3},
		{"Mid bin", 1024, 200},
		{"High bin", 1024, 511},
		{"Large frame", 8192, 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewWithSize(tt.n)
			if err != nil {
				t.Fatal(err)
			}
			spectrum, err := tr.Transform(binSine(tt.n, tt.bin))
			if err != nil {
				t.Fatal(err)
			}

			for k := range spectrum.Real {
				mag := math.Hypot(float64(spectrum.Real[k]), float64(spectrum.Imag[k]))
				if k == tt.bin {
					if math.Abs(mag-0.5) > 1e-4 {
						t.Errorf("|X[%d]| = %v, want 0.5", k, mag)
					}
					continue
				}
				if mag > 1e-4 {
					t.Errorf("leakage at bin %d: %v", k, mag)
				}
			}

			db := MagnitudeDecibels(spectrum)
			if got := peakBin(db); got != tt.bin {
				t.Errorf("peak at bin %d, want %d", got, tt.bin)
			}
			if want := 10 * math.Log10(0.25); math.Abs(float64(db[tt.bin])-want) > 1e-3 {
				t.Errorf("peak level %v dB, want %v dB", db[tt.bin], want)
			}
		})
	}
}

func TestEnergyScalesWithAmplitude(t *testing.T) {
	tr, _ := NewWithSize(1024)
	energy := func(amplitude float64) float64 {
		frame := binSine(1024, 40)
		for i := range frame {
			frame[i] *= float32(amplitude)
		}
		spectrum, err := tr.Transform(frame)
		if err != nil {
			t.Fatal(err)
		}
		var sum float64
		for k := range spectrum.Real {
			re, im := float64(spectrum.Real[k]), float64(spectrum.Imag[k])
			sum += re*re + im*im
		}
		return sum
	}

	full := energy(1)
	if math.Abs(full-0.25) > 1e-4 {
		t.Fatalf("energy of full-scale sine = %v, want 0.25", full)
	}
	if half := energy(0.5); math.Abs(half/full-0.25) > 1e-4 {
		t.Fatalf("halving amplitude scaled energy by %v, want 0.25", half/full)
	}
}

func TestOneKilohertzAtSixteenKilohertz(t *testing.T) {
	tr := New()
	if err := tr.Setup(testFrameSize); err != nil {
		t.Fatal(err)
	}

	spectrum, err := tr.Transform(sineFrame(testFrameSize, 1000, testSampleRate, 1))
	if err != nil {
		t.Fatal(err)
	}

	want := int(math.Round(1000 * float64(testFrameSize/2) / (testSampleRate / 2)))
	if got := peakBin(MagnitudeDecibels(spectrum)); got != want {
		t.Fatalf("peak at bin %d, want %d", got, want)
	}
	if f := tr.BinFrequency(want, testSampleRate); f != 1000 {
		t.Fatalf("BinFrequency(%d) = %v, want 1000", want, f)
	}
}

func TestMatchesReferenceDFT(t *testing.T) {
	const n = 512
	tr, _ := NewWithSize(n)

	frame := make([]float32, n)
	ref := make([]float64, n)
	for i := range frame {
		ts := float64(i) / n
		v := 0.6*math.Sin(2*math.Pi*17*ts) + 0.3*math.Cos(2*math.Pi*90.5*ts) + 0.1
		frame[i] = float32(v)
		ref[i] = float64(frame[i])
	}

	spectrum, err := tr.Transform(frame)
	if err != nil {
		t.Fatal(err)
	}
	want := dspfft.FFTReal(ref)

	for k := 1; k < n/2; k++ {
		w := want[k] / complex(n, 0)
		got := complex(float64(spectrum.Real[k]), float64(spectrum.Imag[k]))
		if cmplx.Abs(got-w) > 1e-5 {
			t.Fatalf("bin %d: got %v, want %v", k, got, w)
		}
	}
	if dc := real(want[0]) / n; math.Abs(float64(spectrum.Real[0])-dc) > 1e-5 {
		t.Fatalf("DC: got %v, want %v", spectrum.Real[0], dc)
	}
	if ny := real(want[n/2]) / n; math.Abs(float64(spectrum.Nyquist)-ny) > 1e-5 {
		t.Fatalf("Nyquist: got %v, want %v", spectrum.Nyquist, ny)
	}
}

func TestMagnitudeDecibelsIntoLength(t *testing.T) {
	spectrum := NewSpectrum(16)
	if err := MagnitudeDecibelsInto(make([]float32, 4), spectrum); err == nil {
		t.Fatal("expected error for short destination")
	}
	if err := MagnitudeDecibelsInto(make([]float32, 8), spectrum); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBinFrequencyOutOfRange(t *testing.T) {
	tr, _ := NewWithSize(1024)
	for _, bin := range []int{-1, 512, 4096} {
		if f := tr.BinFrequency(bin, testSampleRate); f != 0 {
			t.Errorf("BinFrequency(%d) = %v, want 0", bin, f)
		}
	}
	if f := New().BinFrequency(1, testSampleRate); f != 0 {
		t.Errorf("unconfigured BinFrequency = %v, want 0", f)
	}
}

func TestTransformIntoHotPath(t *testing.T) {
	tr, _ := NewWithSize(testFrameSize)
	frame := sineFrame(testFrameSize, 440, testSampleRate, 0.8)
	spectrum := NewSpectrum(testFrameSize)
	db := make([]float32, spectrum.Bins())

	// Warm-up call.
	_ = tr.TransformInto(&spectrum, frame)
	allocs := testing.AllocsPerRun(100, func() {
		_ = tr.TransformInto(&spectrum, frame)
		_ = MagnitudeDecibelsInto(db, spectrum)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in TransformInto hot path, got %.1f", allocs)
	}
}

func TestWindowParsing(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"", Rectangular, false},
		{"none", Rectangular, false},
		{"Hann", Hann, false},
		{"hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"nuttall", Nuttall, false},
		{"triangle", Rectangular, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.in)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("ParseWindowFunc(%q) = (%v, %v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestWindowApply(t *testing.T) {
	frame := make([]float32, 64)
	for i := range frame {
		frame[i] = 1
	}

	NewWindow(Rectangular, 64).Apply(frame)
	for i, v := range frame {
		if v != 1 {
			t.Fatalf("rectangular window changed sample %d to %v", i, v)
		}
	}

	NewWindow(Hann, 64).Apply(frame)
	if frame[0] > 1e-6 {
		t.Errorf("Hann window edge = %v, want ~0", frame[0])
	}
	if frame[32] < 0.99 {
		t.Errorf("Hann window centre = %v, want ~1", frame[32])
	}
}

func BenchmarkTransformInto(b *testing.B) {
	tr, _ := NewWithSize(testFrameSize)
	frame := sineFrame(testFrameSize, 440, testSampleRate, 0.5)
	spectrum := NewSpectrum(testFrameSize)

	b.ReportAllocs()
	for b.Loop() {
		_ = tr.TransformInto(&spectrum, frame)
	}
}

func BenchmarkMagnitudeDecibelsInto(b *testing.B) {
	tr, _ := NewWithSize(testFrameSize)
	spectrum, _ := tr.Transform(sineFrame(testFrameSize, 440, testSampleRate, 0.5))
	db := make([]float32, spectrum.Bins())

	b.ReportAllocs()
	for b.Loop() {
		_ = MagnitudeDecibelsInto(db, spectrum)
	}
}
