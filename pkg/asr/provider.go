// Package asr defines the Provider interface for streaming speech
// recognition backends.
//
// An ASR provider wraps a real-time transcription source (a cloud streaming
// API or a local whisper.cpp model) and exposes a uniform callback-driven
// session interface. A session owns its recognition loop — a goroutine, or a
// thread blocked on a native library — and fires registered callbacks from
// that context as results arrive. Callbacks must therefore never block;
// consumers hand results off through non-blocking primitives.
//
// The audio input sink is created by [SessionHandle.PrepareSink] and may be
// created before recognition starts, so that audio arriving ahead of the
// session-start signal is buffered rather than lost.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Result is a single recognition result, partial or final.
type Result struct {
	// Text is the recognized speech content.
	Text string

	// Language is the BCP-47 tag of the detected language, when the
	// provider reports one.
	Language string

	// SpeakerID identifies the speaker when diarization is active.
	SpeakerID string
}

// Config describes the audio format and recognition hints for a new session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Telephony media is 16000.
	SampleRate int

	// Channels is the number of audio channels. Telephony media is mono.
	Channels int

	// Language is the primary BCP-47 recognition language (e.g. "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// CandidateLanguages are additional languages offered to providers that
	// support continuous language identification.
	CandidateLanguages []string
}

// SessionHandle is an open recognition session.
//
// Lifecycle: register callbacks, PrepareSink, Start, WriteAudio repeatedly,
// Stop. PrepareSink may be called before Start; WriteAudio before PrepareSink
// returns an error. All methods are safe for concurrent use. Callbacks fire
// on the session's own recognition context and must not block.
type SessionHandle interface {
	// PrepareSink creates the audio input sink if it does not exist yet.
	// Audio written between PrepareSink and Start is buffered.
	PrepareSink() error

	// Start begins continuous recognition. Calling Start on a session that
	// is already running is a no-op.
	Start(ctx context.Context) error

	// WriteAudio hands a chunk of raw PCM16 bytes to the sink. It blocks
	// until the sink accepts the chunk or ctx is done.
	WriteAudio(ctx context.Context, pcm []byte) error

	// OnPartial registers cb for low-latency interim results. Only the most
	// recently registered callback is active.
	OnPartial(cb func(Result))

	// OnFinal registers cb for authoritative results.
	OnFinal(cb func(Result))

	// OnError registers cb for recognition errors. Errors are advisory; the
	// session keeps running until Stop.
	OnError(cb func(error))

	// Stop halts recognition and joins the recognition loop. Stop is
	// idempotent. The provided ctx bounds how long the join may take.
	Stop(ctx context.Context) error
}

// Provider is the abstraction over any streaming ASR backend.
type Provider interface {
	// NewSession creates a recognition session with the given configuration.
	// The session does not consume audio until Start is called, but its sink
	// may be prepared immediately.
	NewSession(ctx context.Context, cfg Config) (SessionHandle, error)
}
