// Package whisper provides a local whisper.cpp-backed ASR provider using the
// whisper.cpp CGO bindings. It implements the asr.Provider interface.
//
// whisper.cpp is a batch transcription engine, so the session simulates
// streaming behaviour: incoming PCM audio is buffered, an energy-based
// silence detector segments utterances, and each committed utterance runs
// through native inference on the session's dedicated recognition goroutine.
// Because there are no true low-latency interim results, the session fires
// the partial and final callbacks with the same text when an utterance
// commits.
//
// The whisper.cpp static library (libwhisper.a) and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxline/voxgate/pkg/asr"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which audio is considered silent. The maximum for
	// 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// audioBuf is the depth of the sink channel between WriteAudio callers
	// and the recognition goroutine.
	audioBuf = 256
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the transcription language code (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// commits the accumulated speech buffer to inference. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced commit. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements asr.Provider using whisper.cpp Go bindings. The model
// is loaded once at construction and shared across all sessions; each
// session creates its own whisper context, which keeps concurrent sessions
// independent.
type Provider struct {
	model    whisperlib.Model
	language string

	silenceThresholdMs  int
	maxBufferDurationMs int
}

// New creates a Provider that loads the whisper.cpp model from modelPath.
// The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// NewSession implements asr.Provider.
func (p *Provider) NewSession(ctx context.Context, cfg asr.Config) (asr.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	return &session{
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		done:                make(chan struct{}),
	}, nil
}

// ─── session ──────────────────────────────────────────────────────────────────

// session is a live whisper recognition session. It implements
// asr.SessionHandle. All mutable state driving silence detection and
// buffering is confined to the processLoop goroutine.
type session struct {
	// immutable configuration
	model               whisperlib.Model
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int

	mu        sync.Mutex
	audio     chan []byte
	started   bool
	onPartial func(asr.Result)
	onFinal   func(asr.Result)
	onError   func(error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PrepareSink implements asr.SessionHandle.
func (s *session) PrepareSink() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		s.audio = make(chan []byte, audioBuf)
	}
	return nil
}

// Start implements asr.SessionHandle. It spawns the recognition goroutine.
// Starting a running session is a no-op.
func (s *session) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.audio == nil {
		s.audio = make(chan []byte, audioBuf)
	}
	s.started = true
	s.wg.Add(1)
	go s.processLoop()
	return nil
}

// WriteAudio implements asr.SessionHandle. It queues a chunk of raw PCM16
// bytes for silence analysis and buffering.
func (s *session) WriteAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	audio := s.audio
	s.mu.Unlock()
	if audio == nil {
		return errors.New("whisper: sink not prepared")
	}

	select {
	case <-s.done:
		return errors.New("whisper: session is stopped")
	default:
	}
	select {
	case audio <- pcm:
		return nil
	case <-s.done:
		return errors.New("whisper: session is stopped")
	case <-ctx.Done():
		return fmt.Errorf("whisper: write audio: %w", ctx.Err())
	}
}

// OnPartial implements asr.SessionHandle.
func (s *session) OnPartial(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = cb
}

// OnFinal implements asr.SessionHandle.
func (s *session) OnFinal(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinal = cb
}

// OnError implements asr.SessionHandle.
func (s *session) OnError(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// Stop implements asr.SessionHandle. It flushes pending speech audio and
// joins the recognition goroutine, bounded by ctx.
func (s *session) Stop(ctx context.Context) error {
	var joinErr error
	s.stopOnce.Do(func() {
		close(s.done)

		joined := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(joined)
		}()

		select {
		case <-joined:
		case <-ctx.Done():
			joinErr = fmt.Errorf("whisper: join recognition loop: %w", ctx.Err())
		}
	})
	return joinErr
}

// processLoop is the session's recognition goroutine: silence detection,
// audio buffering, and native inference dispatch.
func (s *session) processLoop() {
	defer s.wg.Done()

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	commit := func() {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "err", err)
			s.fireError(err)
			return
		}
		if text == "" {
			return
		}

		r := asr.Result{Text: text, Language: s.language}
		s.firePartial(r)
		s.fireFinal(r)
	}

	s.mu.Lock()
	audio := s.audio
	s.mu.Unlock()

	for {
		select {
		case <-s.done:
			commit()
			return

		case chunk := <-audio:
			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < defaultRMSThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						commit()
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					commit()
				}
			}
		}
	}
}

// infer converts the buffered PCM audio to float32, runs whisper.cpp
// inference in a fresh context, and returns the concatenated text.
func (s *session) infer(pcm []byte) (string, error) {
	samples := pcmToFloat32Mono(pcm, s.channels)

	// Contexts are not thread-safe, but the model may be shared.
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func (s *session) firePartial(r asr.Result) {
	s.mu.Lock()
	cb := s.onPartial
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func (s *session) fireFinal(r asr.Result) {
	s.mu.Lock()
	cb := s.onFinal
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func (s *session) fireError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Compile-time assertion that session satisfies asr.SessionHandle.
var _ asr.SessionHandle = (*session)(nil)
