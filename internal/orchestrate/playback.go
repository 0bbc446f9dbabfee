package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/pkg/audio"
	"github.com/voxline/voxgate/pkg/telephony"
	"github.com/voxline/voxgate/pkg/tts"
)

// DirectTimeout bounds a single direct (non-orchestrated) playback, covering
// greetings, announcements, and status or error messages.
const DirectTimeout = 8 * time.Second

// SpeechFormat is the PCM format OpenAI speech streaming emits.
var SpeechFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Playback streams synthesized speech to a telephony sink. It is the shared
// audio-out path for both orchestrated replies and direct system messages.
//
// Playback is stateless apart from its configuration and safe for concurrent
// use.
type Playback struct {
	tts       tts.Provider
	voice     tts.Voice
	srcFormat audio.Format
	dstFormat audio.Format
	metrics   *observe.Metrics
}

// PlaybackOption configures a Playback during construction.
type PlaybackOption func(*Playback)

// WithPlaybackMetrics overrides the metrics instance used for playback
// instrumentation. Defaults to [observe.DefaultMetrics].
func WithPlaybackMetrics(m *observe.Metrics) PlaybackOption {
	return func(p *Playback) { p.metrics = m }
}

// WithSourceFormat sets the PCM format the synthesis provider emits.
// Defaults to [SpeechFormat].
func WithSourceFormat(f audio.Format) PlaybackOption {
	return func(p *Playback) { p.srcFormat = f }
}

// WithOutputFormat sets the PCM format the telephony leg expects.
// Defaults to 16kHz mono.
func WithOutputFormat(f audio.Format) PlaybackOption {
	return func(p *Playback) { p.dstFormat = f }
}

// NewPlayback creates a Playback that synthesizes with prov using voice.
func NewPlayback(prov tts.Provider, voice tts.Voice, opts ...PlaybackOption) *Playback {
	p := &Playback{
		tts:       prov,
		voice:     voice,
		srcFormat: SpeechFormat,
		dstFormat: audio.Format{SampleRate: 16000, Channels: 1},
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Stream synthesizes the text fragments and writes the resulting audio to
// sink, blocking until the fragment channel is drained and all audio has
// been sent, or ctx is done.
//
// A [telephony.ErrNotConnected] from the sink ends the stream quietly: the
// peer hung up and there is nobody left to play to.
func (p *Playback) Stream(ctx context.Context, sink telephony.Sink, fragments <-chan string) error {
	audioCh, err := p.tts.SynthesizeStream(ctx, fragments, p.voice)
	if err != nil {
		return fmt.Errorf("orchestrate: start synthesis: %w", err)
	}

	conv := audio.Converter{Source: p.srcFormat, Target: p.dstFormat}
	for chunk := range audioCh {
		chunk = conv.Convert(chunk)
		if len(chunk) == 0 {
			continue
		}
		if err := sink.SendAudio(ctx, chunk); err != nil {
			// The synthesis goroutine owns audioCh; drain it so it
			// can observe ctx and exit.
			go audio.Drain(audioCh)
			if errors.Is(err, telephony.ErrNotConnected) {
				return nil
			}
			return fmt.Errorf("orchestrate: send audio: %w", err)
		}
	}
	return ctx.Err()
}

// Say synthesizes a single text and plays it to sink, bounded by
// [DirectTimeout].
func (p *Playback) Say(ctx context.Context, sink telephony.Sink, text string) error {
	ctx, cancel := context.WithTimeout(ctx, DirectTimeout)
	defer cancel()

	start := time.Now()
	ch := make(chan string, 1)
	ch <- text
	close(ch)

	err := p.Stream(ctx, sink, ch)
	p.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	return err
}

// Start launches Say on a background goroutine and returns a cancellable
// task for it. Cancelling the task aborts synthesis and audio sending;
// errors other than cancellation are logged at warn.
func (p *Playback) Start(ctx context.Context, sink telephony.Sink, text string) *call.Task {
	ctx, cancel := context.WithCancel(ctx)
	t := call.NewTask(cancel)

	go func() {
		defer t.Finish()
		defer cancel()
		if err := p.Say(ctx, sink, text); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("playback: direct playback failed", "err", err)
		}
	}()

	return t
}
