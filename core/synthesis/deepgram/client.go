// Package deepgram synthesizes sentences through the Deepgram speak
// websocket API, collecting the binary frames for one request into a single
// self-contained clip.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis"
)

const defaultVoice = "aura-2-thalia-en"

type Client struct {
	apiKey       string
	defaultVoice string
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithDefaultVoice(voice string) ClientOption {
	return func(c *Client) {
		if voice != "" {
			c.defaultVoice = voice
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{defaultVoice: defaultVoice}
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

// Synthesize opens one speak websocket, sends the sentence, flushes, and
// accumulates binary frames until the backend confirms the flush. The raw
// samples are wrapped into a WAV clip so the playback pipeline can treat
// every synthesis backend uniformly.
func (c *Client) Synthesize(ctx context.Context, text string, opts ...Option) ([]byte, error) {
	options := synthesis.ApplyOptions(synthesis.Options{Voice: c.defaultVoice}, opts)

	conn, err := c.connectWebsocket(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	// Exit the read loop when the caller gives up mid-request.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	if err := conn.WriteJSON(speakMsg(text)); err != nil {
		return nil, fmt.Errorf("failed to send text over websocket: %w", err)
	}
	if err := conn.WriteJSON(flushMsg); err != nil {
		return nil, fmt.Errorf("failed to flush websocket buffer: %w", err)
	}

	var samples []byte
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("websocket read failed: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			samples = append(samples, msg...)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				_ = conn.WriteJSON(closeMsg)
				if len(samples) == 0 {
					return nil, fmt.Errorf("backend produced no audio")
				}
				return audio.EncodeClip(audio.PCM{
					Data:       samples,
					SampleRate: options.EncodingInfo.SampleRate,
				})
			case "Error":
				return nil, fmt.Errorf("backend reported: %s", parsedMsg.Description)
			}
		}
	}
}

func (c *Client) connectWebsocket(ctx context.Context, options synthesis.Options) (*websocket.Conn, error) {
	urlValues := url.Values{}
	urlValues.Set("encoding", options.EncodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	urlValues.Set("model", options.Voice)
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.DialContext(
		ctx,
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// Option aliases the shared synthesis option type so call sites read
// naturally against either package.
type Option = synthesis.Option

type websocketMessage struct {
	Type string `json:"type"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

func speakMsg(text string) struct {
	Type string `json:"type"`
	Text string `json:"text"`
} {
	return struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "Speak", Text: text}
}
