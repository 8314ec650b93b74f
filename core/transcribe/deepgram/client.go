// Package deepgram transcribes recorded clips through the Deepgram
// prerecorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"os"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{model: "nova-3"}
	if apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
		client.apiKey = apiKey
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}
	return client, nil
}

// Transcribe submits one recorded clip and returns the first channel's best
// transcript. The encoding hint is ignored for container formats the backend
// detects on its own (WAV clips carry their framing in the header).
func (c *Client) Transcribe(ctx context.Context, clip []byte, encoding string) (string, error) {
	if len(clip) == 0 {
		return "", fmt.Errorf("empty clip")
	}

	rest := api.New(listen.NewREST(c.apiKey, &interfaces.ClientOptions{}))

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       c.model,
		Language:    "en-US",
		SmartFormat: true,
	}
	if encoding != "" {
		options.Encoding = encoding
	}

	response, err := rest.FromStream(ctx, bytes.NewReader(clip), options)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	if response == nil || len(response.Results.Channels) == 0 ||
		len(response.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("backend returned no transcript")
	}
	return response.Results.Channels[0].Alternatives[0].Transcript, nil
}
