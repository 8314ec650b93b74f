package stream

import "fmt"

// TurnRequest is the request body of one turn exchange. Input is optional; a
// request without one is a system-initiated greeting turn.
type TurnRequest struct {
	SessionID  string     `json:"sessionId"`
	LessonID   string     `json:"lessonId"`
	ListenerID string     `json:"listenerId"`
	Input      *TurnInput `json:"input,omitempty"`
}

// TurnInput carries exactly one of a typed message, a recorded clip, or an
// uploaded media artifact.
type TurnInput struct {
	Text string `json:"text,omitempty"`

	Audio    []byte `json:"audio,omitempty"`
	Encoding string `json:"encoding,omitempty"`

	Media     []byte `json:"media,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// Validate rejects requests whose input sets more than one input kind, or an
// input object that sets none.
func (r TurnRequest) Validate() error {
	if r.Input == nil {
		return nil
	}

	kinds := 0
	if r.Input.Text != "" {
		kinds++
	}
	if len(r.Input.Audio) > 0 {
		kinds++
	}
	if len(r.Input.Media) > 0 {
		kinds++
	}

	switch kinds {
	case 0:
		return fmt.Errorf("input is present but empty")
	case 1:
		return nil
	default:
		return fmt.Errorf("input must carry exactly one of text, audio, or media")
	}
}

// SpeechRequest is the body of the single-shot fallback synthesis exchange.
type SpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// SpeechResponse carries the fallback clip.
type SpeechResponse struct {
	Clip []byte `json:"clip"`
}
