// Package stream implements the typed event framing used for one turn's
// response body.
//
// A turn response is a sequence of self-contained blocks of the form
//
//	event: <type>
//	data: <json>
//
// terminated by a blank line. Exactly one text event typically precedes one
// or more audio events (ascending index, one per sentence), followed by
// exactly one terminal done or error event.
package stream

type EventType string

const (
	EventText  EventType = "text"
	EventAudio EventType = "audio"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is the tagged union carried over the wire. Exactly one payload field
// matching Type is set.
type Event struct {
	Type  EventType
	Text  *Text
	Audio *Audio
	Done  *Done
	Error *Error
}

// Text carries the full response text the moment the routing decision is
// made, before any audio exists.
type Text struct {
	DisplayText string     `json:"displayText"`
	AudioText   string     `json:"audioText"`
	VisualAid   *VisualAid `json:"visualAid"`
	ResponderID string     `json:"responderId"`
	HandoffNote string     `json:"handoffNote,omitempty"`
}

// VisualAid references supplementary material rendered next to the response.
type VisualAid struct {
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// Audio carries one sentence's synthesized clip. A nil Clip means synthesis
// for this sentence failed and the consumer must skip it, not abort the turn.
type Audio struct {
	Index      int    `json:"index"`
	Clip       []byte `json:"clip"`
	SourceText string `json:"sourceText"`
}

// Done terminates a successful turn.
type Done struct {
	TurnComplete   bool         `json:"turnComplete"`
	FinalResponder ResponderRef `json:"finalResponder"`
}

// ResponderRef names the responder role that closed the turn and why it holds
// the floor.
type ResponderRef struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Error terminates a failed turn.
type Error struct {
	Message string `json:"message"`
}

func NewTextEvent(text Text) Event {
	return Event{Type: EventText, Text: &text}
}

func NewAudioEvent(audio Audio) Event {
	return Event{Type: EventAudio, Audio: &audio}
}

func NewDoneEvent(done Done) Event {
	return Event{Type: EventDone, Done: &done}
}

func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Error: &Error{Message: message}}
}
