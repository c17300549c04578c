// SPDX-License-Identifier: MIT
// Package record writes captured frames to WAV files.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spectra/internal/buffer"
	"spectra/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var logger = log.Component("record")

// ErrAlreadyRecording is returned by Start while a file is open.
var ErrAlreadyRecording = errors.New("already recording")

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// WAVWriter records mono frames to a PCM WAV file. It observes frames on
// the analyzer goroutine, so the capture thread never touches the disk.
type WAVWriter struct {
	dir        string
	sampleRate int
	bitDepth   int
	scale      float64

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	path    string
	frames  uint64
	samples uint64
}

// NewWAVWriter returns a writer that creates files under dir. bitDepth must
// be 16, 24 or 32.
func NewWAVWriter(dir string, sampleRate float64, bitDepth int) (*WAVWriter, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("record: unsupported bit depth %d", bitDepth)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("record: sample rate must be positive, got %v", sampleRate)
	}
	return &WAVWriter{
		dir:        dir,
		sampleRate: int(sampleRate),
		bitDepth:   bitDepth,
		scale:      float64(int64(1)<<(bitDepth-1) - 1),
	}, nil
}

// Start opens a new file. An empty name selects a timestamped one in the
// writer's directory; a relative name is resolved against it.
func (w *WAVWriter) Start(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return fmt.Errorf("record: %w: %s", ErrAlreadyRecording, w.path)
	}
	if name == "" {
		name = "spectra-" + time.Now().Format("20060102-150405") + ".wav"
	}
	path := name
	if !filepath.IsAbs(path) && w.dir != "" {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return fmt.Errorf("record: create directory: %w", err)
		}
		path = filepath.Join(w.dir, name)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	w.file = file
	w.path = path
	w.enc = wav.NewEncoder(file, w.sampleRate, w.bitDepth, 1, wavFormatPCM)
	w.buf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.sampleRate},
		SourceBitDepth: w.bitDepth,
	}
	w.frames, w.samples = 0, 0
	logger.Infof("recording to %s (%d Hz, %d-bit)", path, w.sampleRate, w.bitDepth)
	return nil
}

// Stop finalizes the header and closes the file. Stopping when not
// recording is a no-op.
func (w *WAVWriter) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *WAVWriter) stopLocked() error {
	if w.file == nil {
		return nil
	}
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	logger.Infof("recorded %d frames (%.1fs) to %s", w.frames, float64(w.samples)/float64(w.sampleRate), w.path)

	w.file, w.enc, w.buf = nil, nil, nil
	if encErr != nil {
		return fmt.Errorf("record: finalize %s: %w", w.path, encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("record: close %s: %w", w.path, fileErr)
	}
	return nil
}

// Close stops any recording in progress.
func (w *WAVWriter) Close() error { return w.Stop() }

// Recording reports whether a file is open.
func (w *WAVWriter) Recording() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file != nil
}

// Path returns the current or last file path.
func (w *WAVWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Frames returns the number of frames written to the current or last file.
func (w *WAVWriter) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// ObserveFrame appends the frame to the open file, if any. Samples are
// clamped to [-1, 1] before conversion.
func (w *WAVWriter) ObserveFrame(f *buffer.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}

	n := len(f.Samples)
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i, s := range f.Samples {
		w.buf.Data[i] = w.toInt(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("record: write frame %d: %w", f.Seq, err)
	}
	w.frames++
	w.samples += uint64(n)
	return nil
}

func (w *WAVWriter) toInt(s float32) int {
	if s != s {
		return 0
	}
	v := math.Max(-1, math.Min(1, float64(s)))
	return int(math.Round(v * w.scale))
}
