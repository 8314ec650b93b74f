package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Encoder writes events as framed blocks. JSON marshalling guarantees the
// data line contains no raw newlines, so block boundaries stay unambiguous.
type Encoder struct {
	writer  io.Writer
	flusher http.Flusher
}

func NewEncoder(writer io.Writer) *Encoder {
	encoder := &Encoder{writer: writer}
	if flusher, ok := writer.(http.Flusher); ok {
		encoder.flusher = flusher
	}
	return encoder
}

func (e *Encoder) Encode(event Event) error {
	payload, err := marshalPayload(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(e.writer, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func marshalPayload(event Event) ([]byte, error) {
	var payload any
	switch event.Type {
	case EventText:
		if event.Text == nil {
			return nil, fmt.Errorf("text event has no payload")
		}
		payload = event.Text
	case EventAudio:
		if event.Audio == nil {
			return nil, fmt.Errorf("audio event has no payload")
		}
		payload = event.Audio
	case EventDone:
		if event.Done == nil {
			return nil, fmt.Errorf("done event has no payload")
		}
		payload = event.Done
	case EventError:
		if event.Error == nil {
			return nil, fmt.Errorf("error event has no payload")
		}
		payload = event.Error
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	return data, nil
}
