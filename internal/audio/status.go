// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("audio: configuration failed")

	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("audio: engine not configured")

	// ErrRunning is returned by Configure while the stream is running.
	ErrRunning = errors.New("audio: engine is running")
)

// ConfigurationError reports the setup step that failed. The engine is
// left unconfigured and Configure may be retried.
type ConfigurationError struct {
	Step string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("audio: configure %s: %v", e.Step, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Status reports the outcome of Start and Stop. The "already" states are
// benign no-ops, not errors.
type Status int

const (
	StatusStopped Status = iota
	StatusStarted
	StatusAlreadyStarted
	StatusAlreadyStopped
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarted:
		return "started"
	case StatusAlreadyStarted:
		return "already started"
	case StatusAlreadyStopped:
		return "already stopped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Fault is a set of sticky flags raised by the render callback. They stay
// set until ClearFaults.
type Fault uint32

const (
	// FaultInputOverflow: the host dropped input before the callback ran.
	FaultInputOverflow Fault = 1 << iota
	// FaultOutputUnderflow: the host ran out of output data.
	FaultOutputUnderflow
	// FaultSliceOverrun: a period exceeded max frames per slice and was clipped.
	FaultSliceOverrun
	// FaultFrameLoss: the accumulator discarded samples.
	FaultFrameLoss
)

var faultNames = []struct {
	f    Fault
	name string
}{
	{FaultInputOverflow, "input-overflow"},
	{FaultOutputUnderflow, "output-underflow"},
	{FaultSliceOverrun, "slice-overrun"},
	{FaultFrameLoss, "frame-loss"},
}

// Has reports whether every flag in f2 is set in f.
func (f Fault) Has(f2 Fault) bool { return f&f2 == f2 }

func (f Fault) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range faultNames {
		if f&fn.f != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
