// Package transcribe defines the recorded-audio transcription collaborator:
// one complete clip in, one transcript out. The streaming capture path does
// not go through this package; it only serves turn requests that carry a
// recorded clip instead of typed text.
package transcribe

import "context"

// Transcriber turns one self-contained recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte, encoding string) (string, error)
}

// Func adapts a plain function into a Transcriber.
type Func func(ctx context.Context, clip []byte, encoding string) (string, error)

func (f Func) Transcribe(ctx context.Context, clip []byte, encoding string) (string, error) {
	return f(ctx, clip, encoding)
}
