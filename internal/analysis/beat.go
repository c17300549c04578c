// SPDX-License-Identifier: MIT
package analysis

// OnsetDetector flags sudden energy increases between consecutive frames,
// such as a kick drum hit.
type OnsetDetector struct {
	threshold      float64 // minimum RMS for an onset
	minEnergyRatio float64 // minimum RMS increase over the previous frame
	cooldown       int     // frames to ignore after an onset
	lastEnergy     float64
	holdoff        int
}

// NewOnsetDetector returns a detector. A cooldown of 0 allows onsets on
// consecutive frames.
func NewOnsetDetector(threshold, minEnergyRatio float64, cooldown int) *OnsetDetector {
	return &OnsetDetector{
		threshold:      threshold,
		minEnergyRatio: minEnergyRatio,
		cooldown:       max(cooldown, 0),
	}
}

// Detect reports whether the frame with the given RMS energy is an onset.
func (d *OnsetDetector) Detect(energy float64) bool {
	onset := false
	if d.holdoff > 0 {
		d.holdoff--
	} else if energy > d.threshold && (d.lastEnergy == 0 || energy/d.lastEnergy > d.minEnergyRatio) {
		onset = true
		d.holdoff = d.cooldown
	}
	d.lastEnergy = energy
	return onset
}

// Reset forgets the previous frame.
func (d *OnsetDetector) Reset() {
	d.lastEnergy = 0
	d.holdoff = 0
}
