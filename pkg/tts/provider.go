// Package tts defines the Provider interface for streaming text-to-speech
// backends.
//
// The primary entry point is SynthesizeStream, which accepts a channel of
// text fragments and returns a channel of raw PCM audio bytes as they become
// available. This lets the orchestrator pipe LLM streaming output directly
// into synthesis without waiting for the full reply, and lets the direct
// playback path send a single utterance with the same machinery.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice identifies a synthesis voice on the backing provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Language is the BCP-47 language tag the voice speaks.
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a
	// channel that emits raw PCM16 audio byte slices as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)
}
