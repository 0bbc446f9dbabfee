package resilience

import (
	"context"

	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/tts"
)

// Recognizer implements [asr.Provider] with automatic failover across
// multiple recognition backends. Each backend has its own breaker; when the
// primary fails to open a session or its breaker is open, the next healthy
// fallback is tried.
//
// Only session creation participates in failover. Once a session is
// established, errors within it surface through the session's own error
// callback.
type Recognizer struct {
	group *Group[asr.Provider]
}

var _ asr.Provider = (*Recognizer)(nil)

// NewRecognizer creates a [Recognizer] with primary as the preferred
// backend.
func NewRecognizer(primary asr.Provider, primaryName string, cfg GroupConfig) *Recognizer {
	return &Recognizer{group: NewGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognition provider as a fallback.
func (r *Recognizer) AddFallback(name string, provider asr.Provider) {
	r.group.AddFallback(name, provider)
}

// NewSession opens a recognition session against the first healthy backend.
func (r *Recognizer) NewSession(ctx context.Context, cfg asr.Config) (asr.SessionHandle, error) {
	return DoWithResult(r.group, func(p asr.Provider) (asr.SessionHandle, error) {
		return p.NewSession(ctx, cfg)
	})
}

// Speech implements [tts.Provider] with automatic failover across multiple
// synthesis backends. Each backend has its own breaker.
//
// Only stream setup participates in failover; once a stream is established,
// mid-stream errors are the caller's responsibility.
type Speech struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*Speech)(nil)

// NewSpeech creates a [Speech] with primary as the preferred backend.
func NewSpeech(primary tts.Provider, primaryName string, cfg GroupConfig) *Speech {
	return &Speech{group: NewGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (s *Speech) AddFallback(name string, provider tts.Provider) {
	s.group.AddFallback(name, provider)
}

// SynthesizeStream starts synthesis against the first healthy backend.
func (s *Speech) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	return DoWithResult(s.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}
