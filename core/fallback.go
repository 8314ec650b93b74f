package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

// recoverSpeech is the single-shot resynthesis path for a turn whose stream
// carried text but not one usable clip. The returned clip goes through the
// same scheduler as streamed audio, as a single chunk.
func (s *Session) recoverSpeech(ctx context.Context, seq, epoch uint64, text *stream.Text) error {
	spoken := text.AudioText
	if spoken == "" {
		spoken = text.DisplayText
	}

	body, err := json.Marshal(stream.SpeechRequest{Text: spoken, VoiceID: s.voice})
	if err != nil {
		return fmt.Errorf("failed to encode speech request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/speech", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("speech fallback request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("speech fallback returned status %d", response.StatusCode)
	}

	var speech stream.SpeechResponse
	if err := json.NewDecoder(response.Body).Decode(&speech); err != nil {
		return fmt.Errorf("failed to decode speech fallback response: %w", err)
	}
	if len(speech.Clip) == 0 {
		return fmt.Errorf("speech fallback returned no clip")
	}

	if !s.isCurrent(seq) {
		return nil
	}
	if err := s.scheduler.Schedule(epoch, speech.Clip); err != nil {
		return fmt.Errorf("failed to schedule fallback clip: %w", err)
	}

	logger.Info("recovered speech through the fallback path", "session_id", s.id)
	return nil
}
