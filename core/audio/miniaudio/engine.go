//go:build cgo

// Package miniaudio provides a malgo-backed playback engine implementing the
// scheduler's sink contract.
package miniaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

// Engine renders a shared audio timeline through a miniaudio playback
// device. The device's render callback advances the timeline cursor, which
// doubles as the scheduler's monotonic playback clock.
type Engine struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	timeline     *audio.Timeline

	mu     sync.Mutex
	closed bool
}

func NewEngine(encoding audio.EncodingInfo) (*Engine, error) {
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported playback format %q", encoding.Format.Name())
	}

	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	engine := &Engine{
		audioContext: audioContext,
		timeline:     audio.NewTimeline(encoding),
	}

	format := malgo.FormatS16
	channels := 1
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	engine.device, err = malgo.InitDevice(
		audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: func(pOutput, _ []byte, frameCount uint32) {
			engine.timeline.Render(pOutput[:int(frameCount)*bytesPerFrame])
		}},
	)
	if err != nil {
		_ = audioContext.Uninit()
		audioContext.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := engine.device.Start(); err != nil {
		engine.device.Uninit()
		_ = audioContext.Uninit()
		audioContext.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return engine, nil
}

func (e *Engine) Now() time.Duration {
	return e.timeline.Now()
}

func (e *Engine) Play(pcm audio.PCM, start time.Duration, onDone func()) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("engine closed")
	}

	return e.timeline.Add(pcm, start, onDone)
}

func (e *Engine) Stop() {
	e.timeline.Clear()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.timeline.Clear()
	e.device.Uninit()
	if err := e.audioContext.Uninit(); err != nil {
		e.audioContext.Free()
		return fmt.Errorf("failed to release audio context: %w", err)
	}
	e.audioContext.Free()
	return nil
}
