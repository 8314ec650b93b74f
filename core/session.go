// Package delivery drives the listener side of a tutoring session: it submits
// turns to the producer, consumes the framed event stream, feeds audio into
// the playback scheduler and keeps the voice state machine honest while turns
// are started, superseded and cancelled.
package delivery

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Hadskad/Bloom-Academia-sub003/core/playback"
	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

// Callbacks are the session's interface hooks. All of them may be left nil.
type Callbacks struct {
	// OnText fires the moment a turn's text arrives, before any audio
	// exists.
	OnText func(stream.Text)
	// OnStateChange fires on every voice state transition.
	OnStateChange func(VoiceState)
	// OnNotice fires at most once per failed turn with a dismissible,
	// listener-facing message. Rendered text is never retracted.
	OnNotice func(string)
	// OnAssessment replaces the usual return to idle when a completed turn
	// routes into an assessment step.
	OnAssessment func()
}

// Session is the long-lived controller for one listener. It owns the playback
// engine through its scheduler; the engine is explicitly reset at the start
// of every turn and released only when the session closes.
type Session struct {
	id         string
	baseURL    string
	voice      string
	httpClient *http.Client

	scheduler *playback.Scheduler
	states    *voiceStates
	callbacks Callbacks

	// turnMu serializes turn handover: StartTurn's scheduler reset and a
	// finishing turn's finalize-and-land tail hold it together with the seq
	// check, so a dying turn observes supersession and its successor's
	// scheduler state atomically.
	turnMu sync.Mutex

	mu         sync.Mutex
	turnSeq    uint64
	cancelTurn context.CancelFunc
	transcript []TranscriptEntry

	closeOnce sync.Once
	closeErr  error
}

func NewSession(opts ...SessionOption) (*Session, error) {
	config := sessionConfig{}
	for _, opt := range opts {
		opt(&config)
	}

	if config.sink == nil {
		return nil, fmt.Errorf("a playback engine is required")
	}
	if config.baseURL == "" {
		return nil, fmt.Errorf("a turn producer base URL is required")
	}
	if config.httpClient == nil {
		config.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var schedulerOpts []playback.SchedulerOption
	if config.decode != nil {
		schedulerOpts = append(schedulerOpts, playback.WithDecoder(config.decode))
	}
	if config.margin > 0 {
		schedulerOpts = append(schedulerOpts, playback.WithCompletionMargin(config.margin))
	}

	session := &Session{
		id:         uuid.NewString(),
		baseURL:    config.baseURL,
		voice:      config.voice,
		httpClient: config.httpClient,
		scheduler:  playback.NewScheduler(config.sink, schedulerOpts...),
		states:     newVoiceStates(config.callbacks.OnStateChange),
		callbacks:  config.callbacks,
	}
	return session, nil
}

func (s *Session) ID() string { return s.id }

// State returns the current voice state.
func (s *Session) State() VoiceState { return s.states.Current() }

// StartTurn submits one turn. Starting a turn while a previous one is still
// streaming or audible supersedes it: the prior network call is cancelled and
// its audio stopped before any part of the new turn proceeds. The stream is
// consumed in the background; progress surfaces through the callbacks.
func (s *Session) StartTurn(ctx context.Context, request stream.TurnRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("invalid turn request: %w", err)
	}

	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.turnSeq++
	seq := s.turnSeq
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel
	s.mu.Unlock()

	s.turnMu.Lock()
	if !s.isCurrent(seq) {
		// An even newer turn arrived before this one could take the
		// scheduler; it owns the handover from here.
		s.turnMu.Unlock()
		cancel()
		return nil
	}
	s.scheduler.Stop()
	epoch := s.scheduler.Init()
	s.scheduler.OnAllPlayed(epoch, func() {
		s.turnMu.Lock()
		defer s.turnMu.Unlock()
		if s.isCurrent(seq) {
			s.states.land()
		}
	})
	s.states.set(StateConnecting)
	s.turnMu.Unlock()

	go s.runTurn(turnCtx, cancel, seq, epoch, request)
	return nil
}

// CaptureStarted relays a capture-collaborator update. Ignored while a
// response is in flight so the interface never flickers mid-answer.
func (s *Session) CaptureStarted() bool {
	return s.states.setFromCapture(StateListening)
}

// CaptureStopped relays the end of capture without a submission.
func (s *Session) CaptureStopped() bool {
	return s.states.setFromCapture(StateIdle)
}

// Cancel aborts the in-flight turn and anything still playing. Cancellation
// is not an application error and produces no notice.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.turnSeq++
	s.mu.Unlock()

	s.turnMu.Lock()
	s.scheduler.Stop()
	s.states.set(StateIdle)
	s.turnMu.Unlock()
}

// Close cancels any in-flight turn and releases the playback engine. The
// session is unusable afterwards.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Cancel()
		s.closeErr = s.scheduler.Close()
	})
	return s.closeErr
}

func (s *Session) isCurrent(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.turnSeq
}

func (s *Session) setStateIfCurrent(seq uint64, state VoiceState) {
	if s.isCurrent(seq) {
		s.states.set(state)
	}
}
