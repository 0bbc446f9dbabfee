// Package memory defines the conversation-memory abstraction for call
// transcripts.
//
// A Store persists transcript entries keyed by call; a Conversation is the
// per-call handle the engine holds, combining the store with the call's
// identifiers and an in-process listener fan-out. Persistence and listener
// delivery are best-effort: the voice loop never fails a turn because a
// transcript write failed.
package memory

import (
	"context"
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerCaller marks recognized caller speech.
	SpeakerCaller Speaker = "caller"

	// SpeakerAssistant marks synthesized system speech.
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one transcript line for a call.
type Entry struct {
	// CallID is the telephony call-connection id the entry belongs to.
	CallID string

	// SessionID is the gateway session id.
	SessionID string

	// Speaker is who said it.
	Speaker Speaker

	// Text is the transcript content.
	Text string

	// Language is the BCP-47 tag of the recognized or synthesized
	// language, when known.
	Language string

	// Timestamp is when the utterance was committed.
	Timestamp time.Time
}

// Store persists call transcripts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append writes one entry.
	Append(ctx context.Context, entry Entry) error

	// Recent returns the entries for callID whose timestamp is no earlier
	// than now minus window, ordered chronologically.
	Recent(ctx context.Context, callID string, window time.Duration) ([]Entry, error)
}
