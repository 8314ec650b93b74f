package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

const blockSeparator = "\n\n"

// Decoder reassembles events from a response body that arrives in
// arbitrary-sized pieces with no alignment to block boundaries.
//
// The zero value is ready to use. Feed may be called repeatedly as bytes
// arrive; events are returned in arrival order and never reordered across
// calls. The trailing incomplete block is retained for the next call.
type Decoder struct {
	buffer []byte
}

// Feed appends incoming bytes and returns every event completed so far.
func (d *Decoder) Feed(p []byte) []Event {
	events, rest := Decode(append(d.buffer, p...))
	d.buffer = rest
	return events
}

// Buffered reports how many bytes of an incomplete block are pending.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Decode splits buffer on the blank-line block separator, parses each
// complete block and returns the trailing incomplete block unchanged so the
// caller can retry once more bytes arrive.
//
// A complete block with a known type but unparsable JSON is dropped with a
// logged warning; it is never fatal to the rest of the decode.
func Decode(buffer []byte) (events []Event, rest []byte) {
	for {
		boundary := bytes.Index(buffer, []byte(blockSeparator))
		if boundary < 0 {
			return events, buffer
		}

		block := buffer[:boundary]
		buffer = buffer[boundary+len(blockSeparator):]

		if event, ok := parseBlock(block); ok {
			events = append(events, event)
		}
	}
}

func parseBlock(block []byte) (Event, bool) {
	var eventType EventType
	var data []byte

	for line := range strings.Lines(string(block)) {
		line = strings.TrimSuffix(line, "\n")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			data = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if eventType == "" {
		return Event{}, false
	}

	event := Event{Type: eventType}
	var err error
	switch eventType {
	case EventText:
		event.Text = &Text{}
		err = json.Unmarshal(data, event.Text)
	case EventAudio:
		event.Audio = &Audio{}
		err = json.Unmarshal(data, event.Audio)
	case EventDone:
		event.Done = &Done{}
		err = json.Unmarshal(data, event.Done)
	case EventError:
		event.Error = &Error{}
		err = json.Unmarshal(data, event.Error)
	default:
		logger.Warn("dropping event of unknown type", "type", string(eventType))
		return Event{}, false
	}
	if err != nil {
		logger.Warn("dropping event with unparsable payload", "type", string(eventType), "error", err)
		return Event{}, false
	}

	return event, true
}
