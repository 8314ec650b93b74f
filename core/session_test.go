package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
	"github.com/Hadskad/Bloom-Academia-sub003/core/playback"
	"github.com/Hadskad/Bloom-Academia-sub003/core/responder"
	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis"
	"github.com/Hadskad/Bloom-Academia-sub003/core/turnserver"
)

// fakeSink is an instantly-completing playback engine: every source reports
// done as soon as it is placed, so turns finish in test time.
type fakeSink struct {
	mu     sync.Mutex
	now    time.Duration
	played int
	stops  int
	closed bool
}

func (f *fakeSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) Play(pcm audio.PCM, at time.Duration, onDone func()) error {
	f.mu.Lock()
	f.played++
	f.now = at + pcm.Duration()
	f.mu.Unlock()

	go onDone()
	return nil
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) playedSources() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played
}

func (f *fakeSink) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// recorder collects callback activity behind a mutex.
type recorder struct {
	mu      sync.Mutex
	texts   []stream.Text
	states  []VoiceState
	notices []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnText: func(text stream.Text) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.texts = append(r.texts, text)
		},
		OnStateChange: func(state VoiceState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, state)
		},
		OnNotice: func(notice string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notices = append(r.notices, notice)
		},
	}
}

func (r *recorder) textCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func (r *recorder) noticeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func (r *recorder) sawState(state VoiceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seen := range r.states {
		if seen == state {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newProducer(t *testing.T) *httptest.Server {
	t.Helper()
	scripted := responder.NewScripted(responder.WithRules(responder.Rule{
		Match: "2+2",
		Decision: responder.Decision{
			DisplayText: "Two plus two is four. Want another?",
			ResponderID: "tutor.math",
		},
	}))
	server := httptest.NewServer(
		turnserver.NewServer(scripted, synthesis.Silence{PerCharacter: time.Millisecond}).Handler(),
	)
	t.Cleanup(server.Close)
	return server
}

func newSession(t *testing.T, baseURL string, sink playback.Sink, callbacks Callbacks) *Session {
	t.Helper()
	session, err := NewSession(
		WithBaseURL(baseURL),
		WithEngine(sink),
		WithCallbacks(callbacks),
		WithCompletionMargin(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func textTurn(text string) stream.TurnRequest {
	return stream.TurnRequest{
		SessionID: "s1",
		LessonID:  "l1",
		Input:     &stream.TurnInput{Text: text},
	}
}

func TestTurnEndToEnd(t *testing.T) {
	producer := newProducer(t)
	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("What is 2+2?")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle && events.textCount() > 0 })

	if events.textCount() != 1 {
		t.Fatalf("expected exactly one text callback, got %d", events.textCount())
	}
	if !events.sawState(StateSpeaking) || !events.sawState(StateThinking) {
		t.Fatalf("expected thinking and speaking to be visited, saw %v", events.states)
	}
	if sink.playedSources() != 2 {
		t.Fatalf("expected one source per sentence (2), got %d", sink.playedSources())
	}
	if events.noticeCount() != 0 {
		t.Fatalf("expected no notices on a clean turn, got %v", events.notices)
	}

	transcript := session.Transcript()
	if len(transcript) != 1 || transcript[0].Text.DisplayText != "Two plus two is four. Want another?" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
}

func TestNewTurnSupersedesStillPlayingOne(t *testing.T) {
	release := make(chan struct{})
	clip, err := synthesis.Silence{PerCharacter: time.Millisecond}.Synthesize(context.Background(), "slow")
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		encoder := stream.NewEncoder(w)
		_ = encoder.Encode(stream.NewTextEvent(stream.Text{DisplayText: "Hold on.", ResponderID: "tutor"}))
		_ = encoder.Encode(stream.NewAudioEvent(stream.Audio{Index: 0, Clip: clip, SourceText: "slow"}))
		// Keep the stream open until the client cancels.
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	slowProducer := httptest.NewServer(mux)
	defer slowProducer.Close()
	defer close(release)

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, slowProducer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("first")); err != nil {
		t.Fatalf("failed to start first turn: %v", err)
	}
	waitFor(t, time.Second, func() bool { return events.textCount() == 1 })

	// Supersede on the same session: the first turn's audio must stop
	// before the second proceeds.
	stopsBefore := sink.stopCalls()
	if err := session.StartTurn(context.Background(), textTurn("second")); err != nil {
		t.Fatalf("failed to start second turn: %v", err)
	}
	if sink.stopCalls() <= stopsBefore {
		t.Fatalf("expected the prior turn's playback to be stopped")
	}

	waitFor(t, time.Second, func() bool { return events.textCount() == 2 })
	if events.noticeCount() != 0 {
		t.Fatalf("supersession must never surface a notice, got %v", events.notices)
	}
}

func TestFallbackRecoversSpeechWhenEveryClipIsNull(t *testing.T) {
	clip, err := synthesis.Silence{PerCharacter: time.Millisecond}.Synthesize(context.Background(), "recovered")
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		encoder := stream.NewEncoder(w)
		_ = encoder.Encode(stream.NewTextEvent(stream.Text{DisplayText: "All gaps.", ResponderID: "tutor"}))
		_ = encoder.Encode(stream.NewAudioEvent(stream.Audio{Index: 0, Clip: nil, SourceText: "All gaps."}))
		_ = encoder.Encode(stream.NewDoneEvent(stream.Done{}))
	})
	mux.HandleFunc("POST /v1/speech", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stream.SpeechResponse{Clip: clip})
	})
	producer := httptest.NewServer(mux)
	defer producer.Close()

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("anything")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle && events.textCount() > 0 })

	if sink.playedSources() != 1 {
		t.Fatalf("expected the fallback clip to play as one chunk, got %d", sink.playedSources())
	}
	if events.noticeCount() != 0 {
		t.Fatalf("expected no notice when fallback succeeds, got %v", events.notices)
	}
}

func TestFallbackFailureSurfacesOneNoticeAndKeepsText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		encoder := stream.NewEncoder(w)
		_ = encoder.Encode(stream.NewTextEvent(stream.Text{DisplayText: "Still readable.", ResponderID: "tutor"}))
		_ = encoder.Encode(stream.NewDoneEvent(stream.Done{}))
	})
	mux.HandleFunc("POST /v1/speech", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"backend down"}`, http.StatusBadGateway)
	})
	producer := httptest.NewServer(mux)
	defer producer.Close()

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("anything")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle })

	if events.noticeCount() != 1 {
		t.Fatalf("expected exactly one notice, got %v", events.notices)
	}
	if events.textCount() != 1 {
		t.Fatalf("expected the text to stay rendered, got %d callbacks", events.textCount())
	}
	if len(session.Transcript()) != 1 {
		t.Fatalf("expected the transcript entry to survive the failure")
	}
}

func TestStreamErrorKeepsRenderedText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		encoder := stream.NewEncoder(w)
		_ = encoder.Encode(stream.NewTextEvent(stream.Text{DisplayText: "Partial answer.", ResponderID: "tutor"}))
		_ = encoder.Encode(stream.NewErrorEvent("routing collapsed"))
	})
	producer := httptest.NewServer(mux)
	defer producer.Close()

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("anything")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle })

	if events.noticeCount() != 1 {
		t.Fatalf("expected exactly one notice, got %v", events.notices)
	}
	if events.textCount() != 1 {
		t.Fatalf("expected the partial text to stay rendered")
	}
}

func TestTransportFailureSurfacesOneNotice(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, dead.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("anything")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle })

	if events.noticeCount() != 1 {
		t.Fatalf("expected exactly one notice, got %v", events.notices)
	}
}

func TestCancelIsSilent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", func(w http.ResponseWriter, r *http.Request) {
		encoder := stream.NewEncoder(w)
		_ = encoder.Encode(stream.NewTextEvent(stream.Text{DisplayText: "Hold on.", ResponderID: "tutor"}))
		<-r.Context().Done()
	})
	producer := httptest.NewServer(mux)
	defer producer.Close()

	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if err := session.StartTurn(context.Background(), textTurn("anything")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}
	waitFor(t, time.Second, func() bool { return events.textCount() == 1 })

	session.Cancel()

	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle after cancel, got %s", got)
	}
	// Give the cancelled turn time to wind down; it must stay silent.
	time.Sleep(50 * time.Millisecond)
	if events.noticeCount() != 0 {
		t.Fatalf("cancellation must not surface a notice, got %v", events.notices)
	}
}

func TestAssessmentFollowUpWinsOverIdle(t *testing.T) {
	scripted := responder.NewScripted(responder.WithFallback(responder.Decision{
		DisplayText:  "Lesson complete. Quiz time!",
		ResponderID:  "tutor",
		TurnComplete: true,
	}))
	producer := httptest.NewServer(
		turnserver.NewServer(scripted, synthesis.Silence{PerCharacter: time.Millisecond}).Handler(),
	)
	defer producer.Close()

	sink := &fakeSink{}
	events := &recorder{}

	var assessmentMu sync.Mutex
	assessments := 0
	callbacks := events.callbacks()
	callbacks.OnAssessment = func() {
		assessmentMu.Lock()
		defer assessmentMu.Unlock()
		assessments++
	}

	session := newSession(t, producer.URL, sink, callbacks)

	if err := session.StartTurn(context.Background(), textTurn("wrap up")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		assessmentMu.Lock()
		defer assessmentMu.Unlock()
		return assessments == 1
	})
}

func TestCaptureGuardWhileSpeaking(t *testing.T) {
	producer := newProducer(t)
	sink := &fakeSink{}
	events := &recorder{}
	session := newSession(t, producer.URL, sink, events.callbacks())

	if !session.CaptureStarted() {
		t.Fatalf("expected capture to start from idle")
	}
	if got := session.State(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}

	if err := session.StartTurn(context.Background(), textTurn("What is 2+2?")); err != nil {
		t.Fatalf("failed to start turn: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		state := session.State()
		return state == StateThinking || state == StateSpeaking
	})

	if session.CaptureStarted() {
		t.Fatalf("expected capture updates to be ignored mid-response")
	}

	waitFor(t, time.Second, func() bool { return session.State() == StateIdle })
}

func TestSessionRequiresEngineAndBaseURL(t *testing.T) {
	if _, err := NewSession(WithBaseURL("http://localhost")); err == nil {
		t.Fatalf("expected an error without a playback engine")
	}
	if _, err := NewSession(WithEngine(&fakeSink{})); err == nil {
		t.Fatalf("expected an error without a base URL")
	}
}

func TestSupersededTurnTextStaysOutOfTranscript(t *testing.T) {
	session := newSession(t, "http://localhost:0", &fakeSink{}, Callbacks{})

	// A turn that has already been superseded decodes a late text event; it
	// must not reach the shared transcript.
	staleSeq := uint64(99)
	var outcome turnOutcome
	event := stream.NewTextEvent(stream.Text{DisplayText: "late arrival", ResponderID: "tutor"})
	if terminal := session.handleEvent(staleSeq, 0, "old-turn", event, &outcome); terminal {
		t.Fatalf("a text event must not terminate the turn")
	}

	if got := session.Transcript(); len(got) != 0 {
		t.Fatalf("expected a superseded turn's text to stay out of the transcript, got %+v", got)
	}
}

func TestStartTurnValidatesRequest(t *testing.T) {
	session := newSession(t, "http://localhost:0", &fakeSink{}, Callbacks{})

	request := stream.TurnRequest{Input: &stream.TurnInput{Text: "hi", Media: []byte{1}}}
	if err := session.StartTurn(context.Background(), request); err == nil {
		t.Fatalf("expected a validation error for two input kinds")
	}
}
