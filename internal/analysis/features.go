// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"spectra/internal/fft"

	"gonum.org/v1/gonum/floats"
)

// Features are the per-frame descriptors computed alongside the spectrum.
type Features struct {
	RMS              float64      `json:"rms"`
	Peak             float64      `json:"peak"`
	ZeroCrossingRate float64      `json:"zcr"`
	DominantHz       float64      `json:"dominant_hz"`
	CentroidHz       float64      `json:"centroid_hz"`
	RolloffHz        float64      `json:"rolloff_hz"`
	Flux             float64      `json:"flux"`
	Bands            []BandEnergy `json:"bands"`
	Onset            bool         `json:"onset"`
}

// FeatureConfig tunes feature extraction.
type FeatureConfig struct {
	RolloffPercent float64         // fraction of spectral energy below the rolloff point
	Bands          []FrequencyBand // nil selects DefaultBands
	OnsetThreshold float64         // RMS an onset must exceed
	OnsetRatio     float64         // RMS increase over the previous frame
	OnsetCooldown  int             // frames suppressed after an onset
}

// DefaultFeatureConfig returns the standard feature settings.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		RolloffPercent: 0.85,
		OnsetThreshold: 0.05,
		OnsetRatio:     1.5,
		OnsetCooldown:  2,
	}
}

// FeatureExtractor computes Features for one stream. It keeps the previous
// frame's magnitudes for spectral flux, so each stream needs its own.
type FeatureExtractor struct {
	rolloff float64
	freqs   []float64 // bin centre frequencies
	samples []float64
	mag     []float64
	prevMag []float64
	power   []float64
	scratch []float64
	hasPrev bool
	bands   *bandIndex
	onset   *OnsetDetector
}

// NewFeatureExtractor sizes every workspace for frameSize.
func NewFeatureExtractor(frameSize int, sampleRate float64, cfg FeatureConfig) *FeatureExtractor {
	bins := frameSize / 2
	binHz := sampleRate / float64(frameSize)

	freqs := make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * binHz
	}

	bands := cfg.Bands
	if bands == nil {
		bands = DefaultBands(sampleRate)
	}
	rolloff := cfg.RolloffPercent
	if rolloff <= 0 || rolloff > 1 {
		rolloff = DefaultFeatureConfig().RolloffPercent
	}

	return &FeatureExtractor{
		rolloff: rolloff,
		freqs:   freqs,
		samples: make([]float64, frameSize),
		mag:     make([]float64, bins),
		prevMag: make([]float64, bins),
		power:   make([]float64, bins),
		scratch: make([]float64, bins),
		bands:   newBandIndex(bands, bins, binHz),
		onset:   NewOnsetDetector(cfg.OnsetThreshold, cfg.OnsetRatio, cfg.OnsetCooldown),
	}
}

// Extract computes the features of frame and its spectrum.
func (x *FeatureExtractor) Extract(frame []float32, spectrum fft.Spectrum) Features {
	var f Features

	n := min(len(frame), len(x.samples))
	s := x.samples[:n]
	for i := range s {
		s[i] = float64(frame[i])
	}
	if n > 0 {
		f.RMS = math.Sqrt(floats.Dot(s, s) / float64(n))
		f.Peak = math.Max(floats.Max(s), -floats.Min(s))
	}
	if n > 1 {
		crossings := 0
		for i := 1; i < n; i++ {
			if (s[i-1] >= 0) != (s[i] >= 0) {
				crossings++
			}
		}
		f.ZeroCrossingRate = float64(crossings) / float64(n-1)
	}

	for k := range x.mag {
		x.mag[k] = math.Hypot(float64(spectrum.Real[k]), float64(spectrum.Imag[k]))
		x.power[k] = x.mag[k] * x.mag[k]
	}

	if total := floats.Sum(x.power); total > 0 {
		f.DominantHz = x.freqs[floats.MaxIdx(x.power)]
		f.CentroidHz = floats.Dot(x.freqs, x.power) / total

		floats.CumSum(x.scratch, x.power)
		limit := x.rolloff * total
		for k, c := range x.scratch {
			if c >= limit {
				f.RolloffHz = x.freqs[k]
				break
			}
		}
	}

	if x.hasPrev {
		floats.SubTo(x.scratch, x.mag, x.prevMag)
		var flux float64
		for _, d := range x.scratch {
			if d > 0 {
				flux += d * d
			}
		}
		f.Flux = math.Sqrt(flux)
	}
	copy(x.prevMag, x.mag)
	x.hasPrev = true

	f.Bands = make([]BandEnergy, len(x.bands.bands))
	x.bands.energiesInto(f.Bands, x.power)
	f.Onset = x.onset.Detect(f.RMS)
	return f
}

// Reset forgets inter-frame state after a stream restart.
func (x *FeatureExtractor) Reset() {
	x.hasPrev = false
	x.onset.Reset()
}
