// Package orchestrate defines the turn-handling boundary between the call
// engine and the AI application behind it.
//
// The engine hands every finalized caller utterance to an [Orchestrator] and
// plays whatever the orchestrator streams back. Hosts embed their own
// orchestrator to run arbitrary agent logic; [Router] is the built-in default
// that streams an LLM reply sentence-by-sentence through TTS.
package orchestrate

import (
	"context"

	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony"
)

// Orchestrator handles one finalized caller utterance and produces the
// response, streaming any audio to sink before returning.
//
// HandleTurn runs at most once concurrently per session. It must honor ctx
// cancellation promptly: the engine cancels the turn when the caller barges
// in or the call ends, and bounds the wait for HandleTurn to return.
type Orchestrator interface {
	// HandleTurn processes transcript for the call identified by callID.
	//
	// conv is the call's memory handle; the caller utterance has already
	// been published to it. voiceCall reports whether the response should
	// be synthesized and streamed to sink as audio; when false the
	// orchestrator only produces text (published to conv).
	HandleTurn(ctx context.Context, conv *memory.Conversation, transcript string, sink telephony.Sink, callID string, voiceCall bool) error
}
