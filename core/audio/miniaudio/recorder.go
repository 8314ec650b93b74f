//go:build cgo

package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

// Recorder captures microphone input into one self-contained clip, the shape
// a turn request's recorded-audio input expects.
type Recorder struct {
	encoding audio.EncodingInfo

	mu           sync.Mutex
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	samples      []byte
	recording    bool
}

func NewRecorder(encoding audio.EncodingInfo) (*Recorder, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported capture format %q", encoding.Format.Name())
	}

	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &Recorder{encoding: encoding, audioContext: audioContext}, nil
}

// Start opens the default capture device and begins accumulating samples.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(r.encoding.SampleRate)
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = 1
	config.Alsa.NoMMap = 1

	r.samples = nil
	device, err := malgo.InitDevice(
		r.audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: func(_, pInput []byte, _ uint32) {
			r.mu.Lock()
			r.samples = append(r.samples, pInput...)
			r.mu.Unlock()
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	r.device = device
	r.recording = true
	return nil
}

// Stop ends the capture and returns everything recorded since Start as one
// encoded clip.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, fmt.Errorf("not recording")
	}
	device := r.device
	r.device = nil
	r.recording = false
	r.mu.Unlock()

	device.Uninit()

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		return nil, fmt.Errorf("nothing was recorded")
	}
	return audio.EncodeClip(audio.PCM{Data: samples, SampleRate: r.encoding.SampleRate})
}

// Close releases the audio context. Stops any capture still running.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
		r.recording = false
	}
	audioContext := r.audioContext
	r.audioContext = nil
	r.mu.Unlock()

	if audioContext == nil {
		return nil
	}
	if err := audioContext.Uninit(); err != nil {
		audioContext.Free()
		return fmt.Errorf("failed to release audio context: %w", err)
	}
	audioContext.Free()
	return nil
}
