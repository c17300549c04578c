// SPDX-License-Identifier: MIT
/*
Package buffer hands fixed-size analysis frames from the real-time capture
callback to a consumer goroutine.

The Accumulator is a single-producer/single-consumer ring of pre-allocated
frames. The producer (the capture callback) copies variable-length bursts
into the active slot and publishes it by incrementing an atomic counter
when the slot is full. The consumer acquires published slots in order and
releases them when done, which increments a second counter. The producer
only ever compares the two counters, so it never blocks, never allocates
and never waits for the consumer: when every slot is in flight the next
frame is discarded whole and counted.

Exactly one goroutine may call Push and exactly one may call Acquire,
TryAcquire and Release.
*/
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// DefaultPoolSize is the number of frames that may be in flight.
	DefaultPoolSize = 4
	// MinPoolSize keeps one slot writable while the consumer holds another.
	MinPoolSize = 2
	// DefaultPollInterval is how often Acquire re-checks for a new frame.
	DefaultPollInterval = 2 * time.Millisecond
)

// ErrReleaseOrder is returned when frames are released out of acquisition
// order or a frame is released twice.
var ErrReleaseOrder = errors.New("buffer: frame released out of order")

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithPoolSize sets the number of pooled frames.
func WithPoolSize(n int) Option {
	return func(a *Accumulator) { a.poolSize = n }
}

// WithRemainderPolicy sets what happens to samples past a frame boundary.
func WithRemainderPolicy(p RemainderPolicy) Option {
	return func(a *Accumulator) { a.policy = p }
}

// WithPollInterval sets how often Acquire checks for a published frame.
func WithPollInterval(d time.Duration) Option {
	return func(a *Accumulator) { a.pollInterval = d }
}

// Accumulator turns sample bursts into fixed-size frames.
type Accumulator struct {
	frameSize    int
	sampleRate   float64
	poolSize     int
	policy       RemainderPolicy
	pollInterval time.Duration
	slots        []Frame

	// Producer-only state.
	pos        int
	seq        uint64
	discarding bool

	// Consumer-only state.
	acquired uint64

	produced      atomic.Uint64
	consumed      atomic.Uint64
	cursor        atomic.Int64
	droppedFrames atomic.Uint64
	lostSamples   atomic.Uint64
	clippedBursts atomic.Uint64
}

// NewAccumulator allocates every frame up front. frameSize may be any
// positive length; power-of-two validation belongs to the transform.
func NewAccumulator(frameSize int, sampleRate float64, opts ...Option) (*Accumulator, error) {
	a := &Accumulator{
		frameSize:    frameSize,
		sampleRate:   sampleRate,
		poolSize:     DefaultPoolSize,
		policy:       CarryRemainder,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}

	switch {
	case frameSize <= 0:
		return nil, fmt.Errorf("buffer: frame size must be positive, got %d", frameSize)
	case sampleRate <= 0:
		return nil, fmt.Errorf("buffer: sample rate must be positive, got %v", sampleRate)
	case a.poolSize < MinPoolSize:
		return nil, fmt.Errorf("buffer: pool size must be at least %d, got %d", MinPoolSize, a.poolSize)
	case a.policy != CarryRemainder && a.policy != DropRemainder:
		return nil, fmt.Errorf("buffer: unknown remainder policy %d", a.policy)
	case a.pollInterval <= 0:
		return nil, fmt.Errorf("buffer: poll interval must be positive, got %v", a.pollInterval)
	}

	a.slots = make([]Frame, a.poolSize)
	for i := range a.slots {
		a.slots[i] = Frame{
			Samples:    make([]float32, frameSize),
			SampleRate: sampleRate,
		}
	}
	return a, nil
}

// FrameSize returns the number of samples per frame.
func (a *Accumulator) FrameSize() int { return a.frameSize }

// SampleRate returns the sample rate stamped on every frame.
func (a *Accumulator) SampleRate() float64 { return a.sampleRate }

// PoolSize returns the number of pooled frames.
func (a *Accumulator) PoolSize() int { return a.poolSize }

// Policy returns the remainder policy.
func (a *Accumulator) Policy() RemainderPolicy { return a.policy }

// Push copies samples into the active frame and publishes every frame it
// completes. It returns the number of frames published. Push is safe to
// call from the real-time thread.
func (a *Accumulator) Push(samples []float32) int {
	completed := 0
	pool := uint64(a.poolSize)

	for len(samples) > 0 {
		produced := a.produced.Load()
		if a.pos == 0 {
			a.discarding = produced-a.consumed.Load() >= pool
		}

		n := min(len(samples), a.frameSize-a.pos)
		slot := &a.slots[produced%pool]
		if a.discarding {
			a.lostSamples.Add(uint64(n))
		} else {
			copy(slot.Samples[a.pos:a.pos+n], samples[:n])
		}
		a.pos += n
		samples = samples[n:]

		if a.pos < a.frameSize {
			break
		}

		a.pos = 0
		if a.discarding {
			a.droppedFrames.Add(1)
		} else {
			slot.Seq = a.seq
			slot.Completed = time.Now()
			a.produced.Add(1)
			completed++
		}
		a.seq++

		if a.policy == DropRemainder && len(samples) > 0 {
			a.lostSamples.Add(uint64(len(samples)))
			a.clippedBursts.Add(1)
			break
		}
	}

	a.cursor.Store(int64(a.pos))
	return completed
}

// Reset discards the partially filled frame. The producer must not be
// running; published frames and counters are kept.
func (a *Accumulator) Reset() {
	a.pos = 0
	a.discarding = false
	a.cursor.Store(0)
}

// TryAcquire returns the oldest published frame that has not been
// acquired yet, or false when none is ready.
func (a *Accumulator) TryAcquire() (*Frame, bool) {
	if a.acquired >= a.produced.Load() {
		return nil, false
	}
	f := &a.slots[a.acquired%uint64(a.poolSize)]
	a.acquired++
	return f, true
}

// Acquire waits until a frame is published or ctx is done.
func (a *Accumulator) Acquire(ctx context.Context) (*Frame, error) {
	if f, ok := a.TryAcquire(); ok {
		return f, nil
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if f, ok := a.TryAcquire(); ok {
				return f, nil
			}
		}
	}
}

// Release hands frame back to the producer. Frames must be released in
// the order they were acquired.
func (a *Accumulator) Release(frame *Frame) error {
	consumed := a.consumed.Load()
	if consumed >= a.acquired || frame != &a.slots[consumed%uint64(a.poolSize)] {
		return ErrReleaseOrder
	}
	a.consumed.Add(1)
	return nil
}

// Stats returns the current counters.
func (a *Accumulator) Stats() Stats {
	return Stats{
		Produced:      a.produced.Load(),
		Consumed:      a.consumed.Load(),
		DroppedFrames: a.droppedFrames.Load(),
		LostSamples:   a.lostSamples.Load(),
		ClippedBursts: a.clippedBursts.Load(),
		Cursor:        int(a.cursor.Load()),
	}
}
