// Package synthesis defines the speech-synthesis collaborator contract: one
// sentence of text in, one complete self-contained audio clip out.
package synthesis

import (
	"context"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

// Synthesizer turns one sentence into one complete encoded clip (WAV
// container). Implementations must honor ctx cancellation; a failed sentence
// is reported as an error and the caller decides whether the turn survives.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...Option) ([]byte, error)
}

type Options struct {
	// Voice selects the synthesis voice; the zero value lets the
	// implementation pick its default.
	Voice string
	// EncodingInfo is the raw sample framing requested from the backend.
	EncodingInfo audio.EncodingInfo
}

type Option func(*Options)

func WithVoice(voice string) Option {
	return func(o *Options) {
		if voice != "" {
			o.Voice = voice
		}
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(o *Options) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// ApplyOptions resolves the option list against implementation defaults.
func ApplyOptions(defaults Options, opts []Option) Options {
	options := defaults
	if options.EncodingInfo.IsZero() {
		options.EncodingInfo = audio.GetDefaultEncodingInfo()
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
