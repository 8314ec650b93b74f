package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

const (
	noticeTransport = "We couldn't reach your tutor. Please try again."
	noticeStream    = "Your tutor ran into a problem finishing that answer."
	noticeNoSpeech  = "We couldn't read that answer aloud, but the text is all there."
)

type turnOutcome struct {
	text        *stream.Text
	usableClips int
	done        *stream.Done
	streamErr   *stream.Error
	err         error
}

// runTurn drives one turn end to end: consume the stream, recover missing
// speech, finalize playback and reconcile the state machine. A turn whose
// context was cancelled exits silently; the superseding turn owns the
// interface from that point on. epoch is the turn's scheduler token: every
// scheduler call made here carries it, so a tail that runs after
// supersession is dropped by the scheduler itself.
func (s *Session) runTurn(ctx context.Context, cancel context.CancelFunc, seq, epoch uint64, request stream.TurnRequest) {
	defer cancel()

	turnID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "run turn", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.String("turn.session_id", request.SessionID),
		attribute.String("turn.lesson_id", request.LessonID),
	))
	defer span.End()

	outcome := s.consumeStream(ctx, seq, epoch, turnID, request)

	if ctx.Err() != nil && outcome.done == nil && outcome.streamErr == nil {
		return
	}

	switch {
	case outcome.err != nil:
		span.RecordError(outcome.err)
		span.SetStatus(codes.Error, outcome.err.Error())
		s.notify(seq, noticeTransport)
	case outcome.streamErr != nil:
		recordedErr := &StreamError{Message: outcome.streamErr.Message}
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		s.notify(seq, noticeStream)
	}

	// Resynthesize the whole response once when the stream delivered text
	// but not a single usable clip.
	if outcome.done != nil && outcome.text != nil && outcome.usableClips == 0 {
		if err := s.recoverSpeech(ctx, seq, epoch, outcome.text); err != nil {
			span.RecordError(err)
			s.notify(seq, noticeNoSpeech)
		}
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if !s.isCurrent(seq) {
		return
	}

	if outcome.done != nil && outcome.done.TurnComplete {
		if followUp := s.callbacks.OnAssessment; followUp != nil {
			s.states.scheduleFollowUp(followUp)
		}
	}

	s.scheduler.Finalize(epoch)
	if s.scheduler.Stats().Attempted == 0 {
		// Nothing was ever scheduled, so no completion signal is coming.
		s.states.land()
	}
}

func (s *Session) consumeStream(ctx context.Context, seq, epoch uint64, turnID string, request stream.TurnRequest) turnOutcome {
	var outcome turnOutcome

	body, err := json.Marshal(request)
	if err != nil {
		outcome.err = &TransportError{Err: fmt.Errorf("failed to encode request: %w", err)}
		return outcome
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/turns", bytes.NewReader(body))
	if err != nil {
		outcome.err = &TransportError{Err: err}
		return outcome
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(httpRequest)
	if err != nil {
		if ctx.Err() == nil {
			outcome.err = &TransportError{Err: err}
		}
		return outcome
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		outcome.err = &TransportError{Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
		return outcome
	}

	s.setStateIfCurrent(seq, StateThinking)

	decoder := &stream.Decoder{}
	buffer := make([]byte, 4096)
	for {
		n, readErr := response.Body.Read(buffer)
		if n > 0 {
			for _, event := range decoder.Feed(buffer[:n]) {
				if terminal := s.handleEvent(seq, epoch, turnID, event, &outcome); terminal {
					return outcome
				}
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return outcome
			}
			if errors.Is(readErr, io.EOF) {
				readErr = fmt.Errorf("stream ended without a terminal event")
			}
			outcome.err = &TransportError{Err: readErr}
			return outcome
		}
	}
}

// handleEvent applies one decoded event in arrival order and reports whether
// it terminated the turn.
func (s *Session) handleEvent(seq, epoch uint64, turnID string, event stream.Event, outcome *turnOutcome) bool {
	switch event.Type {
	case stream.EventText:
		outcome.text = event.Text
		if !s.isCurrent(seq) {
			return false
		}
		s.appendTranscript(turnID, *event.Text)
		// Text flips the session to speaking without waiting for audio.
		s.setStateIfCurrent(seq, StateSpeaking)
		if callback := s.callbacks.OnText; callback != nil && s.isCurrent(seq) {
			callback(*event.Text)
		}

	case stream.EventAudio:
		if event.Audio.Clip == nil {
			logger.Debug("skipping sentence whose synthesis failed",
				"turn_id", turnID, "index", event.Audio.Index)
			return false
		}
		// A stale epoch is dropped by the scheduler itself, so a turn that
		// is superseded mid-call cannot leak audio into its successor.
		if err := s.scheduler.Schedule(epoch, event.Audio.Clip); err != nil {
			logger.Warn("failed to schedule clip",
				"turn_id", turnID, "index", event.Audio.Index, "error", err)
			return false
		}
		outcome.usableClips++

	case stream.EventDone:
		outcome.done = event.Done
		return true

	case stream.EventError:
		outcome.streamErr = event.Error
		return true
	}
	return false
}

// notify surfaces one dismissible notice for the turn, and only while the
// turn still owns the interface.
func (s *Session) notify(seq uint64, message string) {
	if !s.isCurrent(seq) {
		return
	}
	if callback := s.callbacks.OnNotice; callback != nil {
		callback(message)
	}
}
