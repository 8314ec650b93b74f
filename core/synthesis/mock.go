package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

// Silence is a synthesizer that produces silent clips sized to the input
// text. It backs the daemon's offline mode and tests that need deterministic
// clip durations without a speech backend.
type Silence struct {
	// PerCharacter is how much silence one input character buys.
	PerCharacter time.Duration
	// Err, when set, makes every call fail. Lets tests exercise the
	// synthesis-gap path.
	Err error
}

func (s Silence) Synthesize(ctx context.Context, text string, opts ...Option) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	options := ApplyOptions(Options{}, opts)
	perCharacter := s.PerCharacter
	if perCharacter <= 0 {
		perCharacter = 50 * time.Millisecond
	}

	duration := time.Duration(max(len(text), 1)) * perCharacter
	byteCount := int(float64(options.EncodingInfo.BytesPerSecond()) * duration.Seconds())
	byteCount -= byteCount % 2

	clip, err := audio.EncodeClip(audio.PCM{
		Data:       make([]byte, byteCount),
		SampleRate: options.EncodingInfo.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build silent clip: %w", err)
	}
	return clip, nil
}
