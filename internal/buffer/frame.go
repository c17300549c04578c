// SPDX-License-Identifier: MIT
package buffer

import "time"

// Frame is one fixed-length block of mono samples handed from the capture
// callback to the consumer. A Frame returned by Acquire belongs to the
// consumer until it is passed back to Release; the producer never writes
// to it in between.
type Frame struct {
	Seq        uint64    // stream position in frames, gaps mean dropped frames
	Samples    []float32 // len == frame size
	SampleRate float64
	Completed  time.Time // when the producer published the frame
}

// Duration returns the length of audio the frame covers.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / f.SampleRate * float64(time.Second))
}

// RemainderPolicy decides what happens to the samples of a burst that
// remain after the burst completes a frame.
type RemainderPolicy int

const (
	// CarryRemainder starts the next frame with the rest of the burst, so
	// no sample is lost at frame boundaries.
	CarryRemainder RemainderPolicy = iota
	// DropRemainder discards the rest of the burst and counts it.
	DropRemainder
)

func (p RemainderPolicy) String() string {
	switch p {
	case CarryRemainder:
		return "carry"
	case DropRemainder:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseRemainderPolicy converts "carry" or "drop" to a RemainderPolicy.
func ParseRemainderPolicy(s string) (RemainderPolicy, bool) {
	switch s {
	case "", "carry":
		return CarryRemainder, true
	case "drop":
		return DropRemainder, true
	default:
		return CarryRemainder, false
	}
}

// Stats is a point-in-time view of the accumulator counters.
type Stats struct {
	Produced      uint64 // frames published to the consumer
	Consumed      uint64 // frames released by the consumer
	DroppedFrames uint64 // whole frames discarded because every slot was in flight
	LostSamples   uint64 // samples discarded by frame drops or the drop policy
	ClippedBursts uint64 // bursts cut short at a frame boundary by the drop policy
	Cursor        int    // write position in the active frame
}

// InFlight returns the number of published frames not yet released.
func (s Stats) InFlight() uint64 {
	return s.Produced - s.Consumed
}
