package delivery

import (
	"net/http"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/playback"
)

type SessionOption func(*sessionConfig)

type sessionConfig struct {
	baseURL    string
	httpClient *http.Client
	sink       playback.Sink
	decode     playback.DecodeFunc
	margin     time.Duration
	voice      string
	callbacks  Callbacks
}

// WithBaseURL points the session at the turn producer.
func WithBaseURL(baseURL string) SessionOption {
	return func(c *sessionConfig) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(c *sessionConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEngine sets the playback engine the session's scheduler owns for its
// whole lifetime.
func WithEngine(sink playback.Sink) SessionOption {
	return func(c *sessionConfig) {
		c.sink = sink
	}
}

// WithClipDecoder replaces the scheduler's clip decoder.
func WithClipDecoder(decode playback.DecodeFunc) SessionOption {
	return func(c *sessionConfig) {
		c.decode = decode
	}
}

// WithCompletionMargin tunes the forced-completion safety margin.
func WithCompletionMargin(margin time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.margin = margin
	}
}

// WithVoice sets the voice requested on fallback synthesis.
func WithVoice(voice string) SessionOption {
	return func(c *sessionConfig) {
		c.voice = voice
	}
}

// WithCallbacks registers the session's interface callbacks. Nil members are
// left as no-ops.
func WithCallbacks(callbacks Callbacks) SessionOption {
	return func(c *sessionConfig) {
		if callbacks.OnText != nil {
			c.callbacks.OnText = callbacks.OnText
		}
		if callbacks.OnStateChange != nil {
			c.callbacks.OnStateChange = callbacks.OnStateChange
		}
		if callbacks.OnNotice != nil {
			c.callbacks.OnNotice = callbacks.OnNotice
		}
		if callbacks.OnAssessment != nil {
			c.callbacks.OnAssessment = callbacks.OnAssessment
		}
	}
}
