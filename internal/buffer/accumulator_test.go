// SPDX-License-Identifier: MIT
package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testSampleRate = 16000

func ramp(start, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(start + i)
	}
	return s
}

func newTestAccumulator(t *testing.T, frameSize int, opts ...Option) *Accumulator {
	t.Helper()
	a, err := NewAccumulator(frameSize, testSampleRate, opts...)
	if err != nil {
		t.Fatalf("NewAccumulator: %v", err)
	}
	return a
}

func TestNewAccumulatorValidation(t *testing.T) {
	tests := []struct {
		name       string
		frameSize  int
		sampleRate float64
		opts       []Option
	}{
		{"Zero frame size", 0, testSampleRate, nil},
		{"Negative frame size", -4, testSampleRate, nil},
		{"Zero sample rate", 64, 0, nil},
		{"Pool too small", 64, testSampleRate, []Option{WithPoolSize(1)}},
		{"Unknown policy", 64, testSampleRate, []Option{WithRemainderPolicy(RemainderPolicy(9))}},
		{"Zero poll interval", 64, testSampleRate, []Option{WithPollInterval(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAccumulator(tt.frameSize, tt.sampleRate, tt.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSinglePushCompletesOneFrame(t *testing.T) {
	a := newTestAccumulator(t, 4160)

	if got := a.Push(ramp(0, 4160)); got != 1 {
		t.Fatalf("Push returned %d completions, want 1", got)
	}
	st := a.Stats()
	if st.Produced != 1 || st.Cursor != 0 {
		t.Fatalf("stats after full push = %+v, want 1 produced and cursor 0", st)
	}

	f, ok := a.TryAcquire()
	if !ok {
		t.Fatal("no frame available")
	}
	if len(f.Samples) != 4160 || f.SampleRate != testSampleRate || f.Seq != 0 {
		t.Fatalf("frame len=%d rate=%v seq=%d", len(f.Samples), f.SampleRate, f.Seq)
	}
	if _, ok := a.TryAcquire(); ok {
		t.Fatal("second frame reported after a single completion")
	}
}

func TestSmallPushesMatchSinglePush(t *testing.T) {
	const frameSize = 1024
	src := ramp(0, frameSize)

	whole := newTestAccumulator(t, frameSize)
	whole.Push(src)
	want, _ := whole.TryAcquire()

	for _, chunk := range []int{1, 7, 64, 100, 333} {
		a := newTestAccumulator(t, frameSize)
		completions := 0
		for start := 0; start < frameSize; start += chunk {
			if a.Stats().Produced != 0 {
				t.Fatalf("chunk %d: frame published before %d samples", chunk, frameSize)
			}
			completions += a.Push(src[start:min(start+chunk, frameSize)])
		}
		if completions != 1 {
			t.Fatalf("chunk %d: %d completions, want 1", chunk, completions)
		}
		got, ok := a.TryAcquire()
		if !ok {
			t.Fatalf("chunk %d: no frame", chunk)
		}
		for i := range want.Samples {
			if got.Samples[i] != want.Samples[i] {
				t.Fatalf("chunk %d: sample %d = %v, want %v", chunk, i, got.Samples[i], want.Samples[i])
			}
		}
		if a.Stats().Cursor != 0 {
			t.Fatalf("chunk %d: cursor %d after completion", chunk, a.Stats().Cursor)
		}
	}
}

func TestCursorNeverReachesFrameSize(t *testing.T) {
	a := newTestAccumulator(t, 100, WithPoolSize(64))
	for _, n := range []int{99, 1, 50, 150, 250, 3} {
		a.Push(ramp(0, n))
		if c := a.Stats().Cursor; c < 0 || c >= 100 {
			t.Fatalf("cursor %d out of range after pushing %d", c, n)
		}
	}
}

func TestCarryRemainderPreservesEverySample(t *testing.T) {
	const frameSize = 64
	a := newTestAccumulator(t, frameSize, WithPoolSize(8))

	// Bursts that straddle frame boundaries.
	next := 0
	for _, n := range []int{50, 50, 50, 106} {
		a.Push(ramp(next, n))
		next += n
	}

	if st := a.Stats(); st.Produced != 4 || st.LostSamples != 0 || st.Cursor != 0 {
		t.Fatalf("stats = %+v, want 4 frames, no loss, cursor 0", st)
	}

	want := float32(0)
	for i := range 4 {
		f, ok := a.TryAcquire()
		if !ok {
			t.Fatalf("frame %d missing", i)
		}
		if f.Seq != uint64(i) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		for j, v := range f.Samples {
			if v != want {
				t.Fatalf("frame %d sample %d = %v, want %v", i, j, v, want)
			}
			want++
		}
		if err := a.Release(f); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDropRemainderCountsLostSamples(t *testing.T) {
	a := newTestAccumulator(t, 64, WithRemainderPolicy(DropRemainder))

	a.Push(ramp(0, 50))
	a.Push(ramp(50, 50)) // completes at 64, drops 36

	st := a.Stats()
	if st.Produced != 1 || st.LostSamples != 36 || st.ClippedBursts != 1 || st.Cursor != 0 {
		t.Fatalf("stats = %+v", st)
	}

	a.Push(ramp(1000, 64))
	f, _ := a.TryAcquire()
	_ = a.Release(f)
	f, _ = a.TryAcquire()
	if f.Samples[0] != 1000 {
		t.Fatalf("next frame starts at %v, want 1000", f.Samples[0])
	}
}

func TestPoolExhaustionDropsWholeFrames(t *testing.T) {
	a := newTestAccumulator(t, 32, WithPoolSize(2))

	a.Push(ramp(0, 64)) // fills both slots
	if st := a.Stats(); st.Produced != 2 {
		t.Fatalf("produced %d, want 2", st.Produced)
	}

	// No slot free: this frame is discarded even across pushes.
	a.Push(ramp(64, 20))
	a.Push(ramp(84, 12))
	st := a.Stats()
	if st.Produced != 2 || st.DroppedFrames != 1 || st.LostSamples != 32 {
		t.Fatalf("stats after overflow = %+v", st)
	}

	f, _ := a.TryAcquire()
	if err := a.Release(f); err != nil {
		t.Fatal(err)
	}

	// A freed slot is used from the next frame boundary.
	a.Push(ramp(96, 32))
	st = a.Stats()
	if st.Produced != 3 || st.DroppedFrames != 1 {
		t.Fatalf("stats after release = %+v", st)
	}

	_, _ = a.TryAcquire()
	f, ok := a.TryAcquire()
	if !ok {
		t.Fatal("third frame missing")
	}
	if f.Seq != 3 || f.Samples[0] != 96 {
		t.Fatalf("third frame seq=%d first=%v, want seq 3 starting at 96", f.Seq, f.Samples[0])
	}
}

func TestReleaseOrder(t *testing.T) {
	a := newTestAccumulator(t, 8)
	a.Push(ramp(0, 16))

	first, _ := a.TryAcquire()
	second, _ := a.TryAcquire()

	if err := a.Release(second); !errors.Is(err, ErrReleaseOrder) {
		t.Fatalf("out-of-order release: got %v", err)
	}
	if err := a.Release(first); err != nil {
		t.Fatal(err)
	}
	if err := a.Release(first); !errors.Is(err, ErrReleaseOrder) {
		t.Fatalf("double release: got %v", err)
	}
	if err := a.Release(second); err != nil {
		t.Fatal(err)
	}
	if err := a.Release(second); !errors.Is(err, ErrReleaseOrder) {
		t.Fatalf("release with nothing acquired: got %v", err)
	}
	if st := a.Stats(); st.InFlight() != 0 {
		t.Fatalf("in flight = %d", st.InFlight())
	}
}

func TestResetDiscardsPartialFrame(t *testing.T) {
	a := newTestAccumulator(t, 16)
	a.Push(ramp(0, 10))
	a.Reset()

	if c := a.Stats().Cursor; c != 0 {
		t.Fatalf("cursor after reset = %d", c)
	}
	a.Push(ramp(100, 16))
	f, ok := a.TryAcquire()
	if !ok || f.Samples[0] != 100 || f.Samples[15] != 115 {
		t.Fatalf("frame after reset: ok=%v samples=%v", ok, f)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	a := newTestAccumulator(t, 16, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := a.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire on empty accumulator: got %v", err)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const (
		frameSize = 256
		frames    = 200
	)
	a := newTestAccumulator(t, frameSize, WithPoolSize(frames+1), WithPollInterval(100*time.Microsecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		burst := 37
		for next < frames*frameSize {
			n := min(burst, frames*frameSize-next)
			a.Push(ramp(next, n))
			next += n
			burst = burst%97 + 13
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := float32(0)
	for i := range frames {
		f, err := a.Acquire(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Fatalf("frame %d delivered with seq %d", i, f.Seq)
		}
		for j, v := range f.Samples {
			if v != want {
				t.Fatalf("frame %d sample %d = %v, want %v", i, j, v, want)
			}
			want++
		}
		if err := a.Release(f); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if st := a.Stats(); st.DroppedFrames != 0 || st.LostSamples != 0 {
		t.Fatalf("unexpected loss: %+v", st)
	}
}

func TestPushHotPath(t *testing.T) {
	a := newTestAccumulator(t, 4096)
	burst := ramp(0, 512)

	allocs := testing.AllocsPerRun(200, func() {
		a.Push(burst)
		if f, ok := a.TryAcquire(); ok {
			_ = a.Release(f)
		}
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Push, got %.1f", allocs)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]float32, 4000), SampleRate: 16000}
	if d := f.Duration(); d != 250*time.Millisecond {
		t.Fatalf("Duration = %v, want 250ms", d)
	}
}

func TestParseRemainderPolicy(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want RemainderPolicy
		ok   bool
	}{
		{"carry", CarryRemainder, true},
		{"", CarryRemainder, true},
		{"drop", DropRemainder, true},
		{"wrap", CarryRemainder, false},
	} {
		got, ok := ParseRemainderPolicy(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRemainderPolicy(%q) = (%v, %v)", tt.in, got, ok)
		}
	}
}

func BenchmarkPush(b *testing.B) {
	a, _ := NewAccumulator(4096, testSampleRate)
	burst := ramp(0, 160)

	b.ReportAllocs()
	for b.Loop() {
		a.Push(burst)
		if f, ok := a.TryAcquire(); ok {
			_ = a.Release(f)
		}
	}
}
