// SPDX-License-Identifier: MIT
package audio

import (
	"github.com/gordonklaus/portaudio"
)

// Callback is the render callback installed on a stream. in and out are
// interleaved; out is empty for input-only streams. It runs on the host's
// real-time thread.
type Callback func(in, out []float32, flags portaudio.StreamCallbackFlags)

// Stream is an opened host stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Host is the audio subsystem the engine configures. PortAudioHost is the
// production implementation.
type Host interface {
	Activate() error
	Deactivate() error
	InputDevice(id int) (*portaudio.DeviceInfo, error)
	OutputDevice(id int) (*portaudio.DeviceInfo, error)
	IsFormatSupported(params portaudio.StreamParameters) error
	OpenStream(params portaudio.StreamParameters, cb Callback) (Stream, error)
}

// PortAudioHost drives real hardware through PortAudio.
type PortAudioHost struct{}

var _ Host = PortAudioHost{}

func (PortAudioHost) Activate() error   { return Initialize() }
func (PortAudioHost) Deactivate() error { return Terminate() }

func (PortAudioHost) InputDevice(id int) (*portaudio.DeviceInfo, error) {
	return InputDevice(id)
}

func (PortAudioHost) OutputDevice(id int) (*portaudio.DeviceInfo, error) {
	return OutputDevice(id)
}

// IsFormatSupported checks the parameters for the float32 callback format.
func (PortAudioHost) IsFormatSupported(params portaudio.StreamParameters) error {
	probe := func(in, out []float32, _ portaudio.StreamCallbackTimeInfo, _ portaudio.StreamCallbackFlags) {}
	return portaudio.IsFormatSupported(params, probe)
}

func (PortAudioHost) OpenStream(params portaudio.StreamParameters, cb Callback) (Stream, error) {
	stream, err := portaudio.OpenStream(params,
		func(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			cb(in, out, flags)
		})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
