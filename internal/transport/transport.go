// SPDX-License-Identifier: MIT
// Package transport delivers analysis results off the machine or to the log.
package transport

import (
	"time"

	"spectra/internal/analysis"
)

// Transport is a named destination for analysis results. Implementations
// must be safe for use from the analyzer goroutine while their servers run
// on others.
type Transport = analysis.Sink

// SpectrumMessage is the JSON document pushed to WebSocket clients.
type SpectrumMessage struct {
	Type       string            `json:"type"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	SampleRate float64           `json:"sample_rate"`
	FrameSize  int               `json:"frame_size"`
	Decibels   []float32         `json:"decibels"`
	Features   analysis.Features `json:"features"`
}

// MessageTypeSpectrum tags spectrum messages.
const MessageTypeSpectrum = "spectrum"

// NewSpectrumMessage wraps r for the wire. The decibel slice is shared, which
// is safe because Results are immutable.
func NewSpectrumMessage(r *analysis.Result) SpectrumMessage {
	return SpectrumMessage{
		Type:       MessageTypeSpectrum,
		Seq:        r.Seq,
		Timestamp:  r.Timestamp,
		SampleRate: r.SampleRate,
		FrameSize:  r.FrameSize,
		Decibels:   r.Decibels,
		Features:   r.Features,
	}
}
