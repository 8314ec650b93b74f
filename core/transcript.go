package delivery

import (
	"time"

	"github.com/jinzhu/copier"

	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

// TranscriptEntry is one rendered response. Entries are append-only; a turn's
// text stays in the transcript even when the turn later fails.
type TranscriptEntry struct {
	TurnID     string
	Text       stream.Text
	ReceivedAt time.Time
}

func (s *Session) appendTranscript(turnID string, text stream.Text) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = append(s.transcript, TranscriptEntry{
		TurnID:     turnID,
		Text:       text,
		ReceivedAt: time.Now(),
	})
}

// Transcript returns a deep point-in-time copy of the rendered transcript;
// mutating it cannot affect the session.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := []TranscriptEntry{}
	if err := copier.CopyWithOption(&snapshot, &s.transcript, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to snapshot transcript", "error", err)
		return nil
	}
	return snapshot
}
