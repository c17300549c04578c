// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
)

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// BandEnergy is the energy measured in one band for one frame.
type BandEnergy struct {
	Name   string  `json:"name"`
	Energy float64 `json:"energy"` // mean power of the bins in the band
	Level  float64 `json:"level"`  // sqrt(Energy) scaled and clamped to [0, 1] for display
}

// levelScale maps band RMS magnitude onto a 0..1 display level.
const levelScale = 50.0

// DefaultBands returns the standard band layout, with the top band ending
// at the Nyquist frequency.
func DefaultBands(sampleRate float64) []FrequencyBand {
	return []FrequencyBand{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
	}
}

// bandIndex maps each bin to its band, or -1. It is computed once per
// frame size.
type bandIndex struct {
	bands   []FrequencyBand
	binBand []int
	counts  []int
}

func newBandIndex(bands []FrequencyBand, bins int, binHz float64) *bandIndex {
	idx := &bandIndex{
		bands:   bands,
		binBand: make([]int, bins),
		counts:  make([]int, len(bands)),
	}
	for k := range idx.binBand {
		idx.binBand[k] = -1
		freq := float64(k) * binHz
		for b, band := range bands {
			if freq >= band.LowHz && freq < band.HighHz {
				idx.binBand[k] = b
				idx.counts[b]++
				break
			}
		}
	}
	return idx
}

// energiesInto writes the mean power per band into dst.
func (idx *bandIndex) energiesInto(dst []BandEnergy, power []float64) {
	for b := range dst {
		dst[b] = BandEnergy{Name: idx.bands[b].Name}
	}
	for k, b := range idx.binBand {
		if b >= 0 {
			dst[b].Energy += power[k]
		}
	}
	for b := range dst {
		if idx.counts[b] > 0 {
			dst[b].Energy /= float64(idx.counts[b])
		}
		dst[b].Level = math.Min(1.0, math.Sqrt(dst[b].Energy)*levelScale)
	}
}
