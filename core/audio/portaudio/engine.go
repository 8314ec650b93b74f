//go:build cgo

// Package portaudio provides a PortAudio-backed playback engine implementing
// the scheduler's sink contract. Useful on hosts where miniaudio backends are
// unavailable.
package portaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

type Engine struct {
	stream   *portaudio.Stream
	timeline *audio.Timeline

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

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	engine := &Engine{timeline: audio.NewTimeline(encoding)}

	stream, err := portaudio.OpenDefaultStream(
		0, 1,
		float64(encoding.SampleRate),
		encoding.SampleRate/10, // ~100ms of audio per render pass
		func(out []int16) { engine.timeline.RenderSamples(out) },
	)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}
	engine.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
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
	if err := e.stream.Close(); err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to close playback stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}
	return nil
}
