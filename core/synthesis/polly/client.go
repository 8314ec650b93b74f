// Package polly synthesizes sentences through Amazon Polly.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
	"github.com/Hadskad/Bloom-Academia-sub003/core/synthesis"
)

type synthAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
}

type Client struct {
	mu  sync.Mutex
	api synthAPI
	cfg Config
}

func NewClient(cfg Config) *Client {
	return NewClientWithAPI(cfg, nil)
}

// NewClientWithAPI injects the Polly API surface; tests use it to avoid real
// credentials.
func NewClientWithAPI(cfg Config, api synthAPI) *Client {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &Client{api: api, cfg: cfg}
}

// Synthesize requests raw PCM at the requested sample rate and wraps it into
// a WAV clip.
func (c *Client) Synthesize(ctx context.Context, text string, opts ...synthesis.Option) ([]byte, error) {
	options := synthesis.ApplyOptions(synthesis.Options{Voice: c.cfg.VoiceID}, opts)
	if options.EncodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported encoding %q", options.EncodingInfo.Format.Name())
	}

	api, err := c.resolveAPI(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(c.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	sampleRate := strconv.Itoa(options.EncodingInfo.SampleRate)

	output, err := api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &sampleRate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(options.Voice),
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, fmt.Errorf("backend produced no audio")
	}
	defer output.AudioStream.Close()

	samples, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("backend produced no audio")
	}

	return audio.EncodeClip(audio.PCM{
		Data:       samples,
		SampleRate: options.EncodingInfo.SampleRate,
	})
}

func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("polly rejected request (%s): %w", apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("polly transport failed: %w", err)
}

func (c *Client) resolveAPI(ctx context.Context) (synthAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return c.api, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c.api = polly.NewFromConfig(awsCfg)
	return c.api, nil
}
