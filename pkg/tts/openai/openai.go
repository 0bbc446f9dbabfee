// Package openai provides a TTS provider backed by the OpenAI speech
// synthesis API. It implements the tts.Provider interface.
//
// The API is request/response per utterance, so SynthesizeStream issues one
// synthesis request per text fragment and streams each response body into
// the audio channel as it downloads. With sentence-sized fragments this
// keeps time-to-first-audio low without a true streaming synthesis protocol.
// Audio is returned as 24 kHz mono PCM16.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxline/voxgate/pkg/tts"
)

const (
	defaultModel = oai.SpeechModelGPT4oMiniTTS

	// chunkSize is the read granularity for streaming a synthesis response
	// body into the audio channel. 4 KiB is about 85 ms of 24 kHz PCM16.
	chunkSize = 4096

	// audioBuf is the buffer depth of the returned audio channel.
	audioBuf = 64
)

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the speech model (default gpt-4o-mini-tts).
func WithModel(model oai.SpeechModel) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL. Used in tests to
// point the provider at a local fake.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithRequestTimeout bounds each per-fragment synthesis request. Default is
// no per-request timeout beyond the stream context.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Provider) { p.requestTimeout = d }
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client         oai.Client
	model          oai.SpeechModel
	baseURL        string
	requestTimeout time.Duration
}

// New constructs an OpenAI TTS provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// SynthesizeStream implements tts.Provider. One synthesis request is issued
// per fragment received on text; response audio is forwarded to the returned
// channel in chunkSize pieces. The channel closes when text closes and the
// final response is drained, or when ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai: synthesize stream: %w", err)
	}

	audioCh := make(chan []byte, audioBuf)

	go func() {
		defer close(audioCh)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				if fragment == "" {
					continue
				}
				if err := p.synthesizeFragment(ctx, fragment, voice, audioCh); err != nil {
					// Cancellation is the caller interrupting playback;
					// anything else ends the stream early.
					return
				}
			}
		}
	}()

	return audioCh, nil
}

// synthesizeFragment issues one speech request and streams the PCM body into
// audioCh.
func (p *Provider) synthesizeFragment(ctx context.Context, fragment string, voice tts.Voice, audioCh chan<- []byte) error {
	reqCtx := ctx
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	v := oai.AudioSpeechNewParamsVoiceAlloy
	if voice.ID != "" {
		v = oai.AudioSpeechNewParamsVoice(voice.ID)
	}

	res, err := p.client.Audio.Speech.New(reqCtx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          fragment,
		Voice:          v,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return fmt.Errorf("openai: speech request: %w", err)
	}
	defer res.Body.Close()

	for {
		buf := make([]byte, chunkSize)
		n, err := res.Body.Read(buf)
		if n > 0 {
			select {
			case audioCh <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("openai: read speech body: %w", err)
		}
	}
}
