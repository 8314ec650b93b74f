// Package turnserver is the producer side of the turn exchange: it routes one
// turn's input to a responder, segments the decision into sentences,
// synthesizes each one, and streams the result as framed events over the
// response body. It also serves the single-shot fallback synthesis endpoint.
package turnserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hadskad/Bloom-Academia-sub003/core/responder"
	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis"
	"github.com/Hadskad/Bloom-Academia-sub003/core/transcribe"
)

const defaultSynthesisConcurrency = 4

// Server produces turn streams. It holds the two collaborators every turn
// needs (responder, synthesizer) and an optional transcriber for recorded
// audio input.
type Server struct {
	responder   responder.Responder
	synthesizer synthesis.Synthesizer
	transcriber transcribe.Transcriber

	voice       string
	concurrency int
}

type Option func(*Server)

// WithTranscriber enables recorded-audio turn input.
func WithTranscriber(transcriber transcribe.Transcriber) Option {
	return func(s *Server) {
		s.transcriber = transcriber
	}
}

// WithVoice sets the synthesis voice used for every sentence.
func WithVoice(voice string) Option {
	return func(s *Server) {
		s.voice = voice
	}
}

// WithSynthesisConcurrency bounds how many sentences synthesize in parallel.
// Emission order stays index order regardless of this value.
func WithSynthesisConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewServer(responder responder.Responder, synthesizer synthesis.Synthesizer, opts ...Option) *Server {
	server := &Server{
		responder:   responder,
		synthesizer: synthesizer,
		concurrency: defaultSynthesisConcurrency,
	}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Handler returns the server's routes wrapped with HTTP tracing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("POST /v1/speech", s.handleSpeech)
	return otelhttp.NewHandler(mux, "turnserver")
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var request stream.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("malformed turn request: %v", err))
		return
	}
	if err := request.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracer.Start(r.Context(), "serve turn", trace.WithAttributes(
		attribute.String("turn.session_id", request.SessionID),
		attribute.String("turn.lesson_id", request.LessonID),
	))
	defer span.End()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.streamTurn(ctx, span, stream.NewEncoder(w), request)
}

// streamTurn guarantees the terminal contract: every stream that got past
// request validation ends with exactly one done or error event, unless the
// client went away first.
func (s *Server) streamTurn(ctx context.Context, span trace.Span, encoder *stream.Encoder, request stream.TurnRequest) {
	decision, err := s.decide(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = encoder.Encode(stream.NewErrorEvent(fmt.Sprintf("failed to produce a response: %v", err)))
		return
	}
	span.SetAttributes(attribute.String("turn.responder_id", decision.ResponderID))

	// Text ships before any synthesis starts.
	if err := encoder.Encode(stream.NewTextEvent(textPayload(decision))); err != nil {
		logger.Warn("client left before the text event", "error", err)
		return
	}

	sentences := responder.SplitSentences(decision.SpokenText())
	span.SetAttributes(attribute.Int("turn.sentences", len(sentences)))
	if err := s.emitAudio(ctx, encoder, sentences); err != nil {
		logger.Warn("client left mid-stream", "error", err)
		return
	}

	_ = encoder.Encode(stream.NewDoneEvent(stream.Done{
		TurnComplete: decision.TurnComplete,
		FinalResponder: stream.ResponderRef{
			ID:     decision.ResponderID,
			Reason: decision.FinalReason,
		},
	}))
}

func (s *Server) decide(ctx context.Context, request stream.TurnRequest) (*responder.Decision, error) {
	routingRequest := responder.Request{
		SessionID:  request.SessionID,
		LessonID:   request.LessonID,
		ListenerID: request.ListenerID,
	}

	if input := request.Input; input != nil {
		switch {
		case input.Text != "":
			routingRequest.Text = input.Text
		case len(input.Audio) > 0:
			if s.transcriber == nil {
				return nil, fmt.Errorf("recorded audio input is not enabled")
			}
			text, err := s.transcriber.Transcribe(ctx, input.Audio, input.Encoding)
			if err != nil {
				return nil, fmt.Errorf("failed to transcribe recorded input: %w", err)
			}
			routingRequest.Text = text
			routingRequest.Audio = input.Audio
			routingRequest.Encoding = input.Encoding
		case len(input.Media) > 0:
			routingRequest.Media = input.Media
			routingRequest.MediaType = input.MediaType
		}
	}

	decision, err := s.responder.Respond(ctx, routingRequest)
	if err != nil {
		return nil, err
	}
	if decision == nil || decision.DisplayText == "" {
		return nil, fmt.Errorf("responder returned an empty decision")
	}
	return decision, nil
}

// emitAudio synthesizes sentences with bounded concurrency but emits the
// audio events strictly in index order: event i+1 is never written before
// event i. A failed sentence ships a nil clip at its index.
func (s *Server) emitAudio(ctx context.Context, encoder *stream.Encoder, sentences []string) error {
	results := make([]chan []byte, len(sentences))
	for i := range results {
		results[i] = make(chan []byte, 1)
	}

	semaphore := make(chan struct{}, s.concurrency)
	for i, sentence := range sentences {
		go func(index int, sentence string) {
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results[index] <- nil
				return
			}

			clip, err := s.synthesizer.Synthesize(ctx, sentence, synthesis.WithVoice(s.voice))
			if err != nil {
				logger.Warn("sentence synthesis failed, shipping a gap",
					"index", index, "error", err)
				clip = nil
			}
			results[index] <- clip
		}(i, sentence)
	}

	for i, sentence := range sentences {
		select {
		case clip := <-results[i]:
			event := stream.NewAudioEvent(stream.Audio{
				Index:      i,
				Clip:       clip,
				SourceText: sentence,
			})
			if err := encoder.Encode(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var request stream.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("malformed speech request: %v", err))
		return
	}
	if request.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice := request.VoiceID
	if voice == "" {
		voice = s.voice
	}

	clip, err := s.synthesizer.Synthesize(r.Context(), request.Text, synthesis.WithVoice(voice))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("synthesis failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stream.SpeechResponse{Clip: clip})
}

func textPayload(decision *responder.Decision) stream.Text {
	text := stream.Text{
		DisplayText: decision.DisplayText,
		AudioText:   decision.AudioText,
		ResponderID: decision.ResponderID,
		HandoffNote: decision.HandoffNote,
	}
	if decision.VisualAid != nil {
		text.VisualAid = &stream.VisualAid{
			Kind:    decision.VisualAid.Kind,
			URL:     decision.VisualAid.URL,
			Caption: decision.VisualAid.Caption,
		}
	}
	return text
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
