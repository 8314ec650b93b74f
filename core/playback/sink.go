// Package playback schedules decoded audio chunks back-to-back on a
// monotonic playback clock, preserving arrival order regardless of decode
// latency.
package playback

import (
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

// Sink is the playback engine a Scheduler drives. It owns the monotonic
// clock that scheduled chunk placement is expressed in.
type Sink interface {
	// Now returns the current position of the playback clock. It must be
	// monotonic for the lifetime of the sink.
	Now() time.Duration

	// Play enqueues pcm to begin at start on the sink clock. onDone must be
	// invoked exactly once when the source finishes or is halted; some
	// engines deliver this unreliably, which the Scheduler's forced
	// completion path defends against.
	Play(pcm audio.PCM, start time.Duration, onDone func()) error

	// Stop immediately halts all enqueued and playing sources. Safe to call
	// when nothing is playing.
	Stop()

	// Close releases the engine. The sink is unusable afterwards.
	Close() error
}

// DecodeFunc turns one self-contained clip into raw samples. Decoding is
// allowed to take arbitrarily long; the Scheduler serializes calls so decode
// latency can never reorder playback.
type DecodeFunc func(clip []byte) (audio.PCM, error)
