//go:build cgo

// Command tutor-tui is a terminal client for the turn producer: type a
// question, watch the tutor's answer render immediately and hear it played
// back gaplessly.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	delivery "github.com/Hadskad/Bloom-Academia-sub003/core"
	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
	"github.com/Hadskad/Bloom-Academia-sub003/core/audio/miniaudio"
	"github.com/Hadskad/Bloom-Academia-sub003/core/playback"
	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

func main() {
	var (
		serverURL string
		voice     string
		mute      bool
	)

	flag.StringVar(&serverURL, "server", "http://localhost:8080", "Turn producer base URL")
	flag.StringVar(&voice, "voice", "", "Fallback synthesis voice")
	flag.BoolVar(&mute, "mute", false, "Skip audio output, keep playback timing")
	flag.Parse()

	sink, err := buildSink(mute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open audio output: %v\n", err)
		os.Exit(1)
	}

	var recorder *miniaudio.Recorder
	if !mute {
		if recorder, err = miniaudio.NewRecorder(audio.GetDefaultEncodingInfo()); err != nil {
			fmt.Fprintf(os.Stderr, "microphone unavailable, voice input disabled: %v\n", err)
			recorder = nil
		} else {
			defer recorder.Close()
		}
	}

	var program *tea.Program
	session, err := delivery.NewSession(
		delivery.WithBaseURL(serverURL),
		delivery.WithEngine(sink),
		delivery.WithVoice(voice),
		delivery.WithCallbacks(delivery.Callbacks{
			OnText:        func(text stream.Text) { program.Send(textMsg(text)) },
			OnStateChange: func(state delivery.VoiceState) { program.Send(stateMsg(state)) },
			OnNotice:      func(notice string) { program.Send(noticeMsg(notice)) },
			OnAssessment:  func() { program.Send(assessmentMsg{}) },
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build session: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	var capture clipRecorder
	if recorder != nil {
		capture = recorder
	}
	program = tea.NewProgram(newModel(session, capture), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "interface failed: %v\n", err)
		os.Exit(1)
	}
}

func buildSink(mute bool) (playback.Sink, error) {
	if mute {
		return newSilentSink(), nil
	}
	return miniaudio.NewEngine(audio.GetDefaultEncodingInfo())
}

// silentSink keeps real playback timing against the wall clock without
// touching an audio device; clips "finish" when their scheduled end passes.
type silentSink struct {
	epoch  time.Time
	timers chan *time.Timer
}

func newSilentSink() *silentSink {
	return &silentSink{
		epoch:  time.Now(),
		timers: make(chan *time.Timer, 64),
	}
}

func (s *silentSink) Now() time.Duration {
	return time.Since(s.epoch)
}

func (s *silentSink) Play(pcm audio.PCM, start time.Duration, onDone func()) error {
	remaining := max(start+pcm.Duration()-s.Now(), 0)
	timer := time.AfterFunc(remaining, onDone)
	select {
	case s.timers <- timer:
	default:
	}
	return nil
}

func (s *silentSink) Stop() {
	for {
		select {
		case timer := <-s.timers:
			timer.Stop()
		default:
			return
		}
	}
}

func (s *silentSink) Close() error {
	s.Stop()
	return nil
}
