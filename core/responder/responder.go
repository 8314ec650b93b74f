// Package responder defines the response-generation collaborator contract:
// one turn's input goes in, one routing decision with display and speech text
// comes out. The package treats the actual teaching engine as a black box.
package responder

import "context"

// Request carries one turn's input to the response-generation collaborator.
// At most one of Text, Audio, or Media is set; an empty Request is a
// system-initiated greeting.
type Request struct {
	SessionID  string
	LessonID   string
	ListenerID string

	// Text is the typed student message, when present.
	Text string
	// Audio is a recorded clip awaiting transcription, when present.
	Audio    []byte
	Encoding string
	// Media is an uploaded artifact (e.g. a photographed worksheet).
	Media     []byte
	MediaType string
}

// VisualAid is an optional display artifact attached to a response.
type VisualAid struct {
	Kind    string
	URL     string
	Caption string
}

// Decision is the routing outcome for one turn.
type Decision struct {
	// DisplayText is rendered verbatim to the listener.
	DisplayText string
	// AudioText is the speech-friendly variant that gets segmented and
	// synthesized. Falls back to DisplayText when empty.
	AudioText   string
	VisualAid   *VisualAid
	ResponderID string
	// HandoffNote explains a responder change to the listener, when one
	// happened mid-lesson.
	HandoffNote string
	// TurnComplete signals that the lesson step is finished and downstream
	// may advance to assessment.
	TurnComplete bool
	// FinalReason records why this responder ended up answering.
	FinalReason string
}

// SpokenText returns the text that should be synthesized for this decision.
func (d *Decision) SpokenText() string {
	if d.AudioText != "" {
		return d.AudioText
	}
	return d.DisplayText
}

// Responder produces one Decision per turn. Implementations must honor ctx
// cancellation and return an error rather than a partial decision.
type Responder interface {
	Respond(ctx context.Context, request Request) (*Decision, error)
}
