// Package mock provides a scripted [orchestrate.Orchestrator] for engine
// tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxgate/internal/orchestrate"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony"
)

// Call records one HandleTurn invocation.
type Call struct {
	Transcript string
	CallID     string
	VoiceCall  bool
}

// Orchestrator is a test double that records HandleTurn calls and returns
// scripted results. The zero value handles every turn successfully and
// immediately.
type Orchestrator struct {
	// Err is returned from HandleTurn when non-nil.
	Err error

	// Reply, when non-empty, is published to the conversation as the
	// assistant utterance.
	Reply string

	// Block, when non-nil, makes HandleTurn wait until the channel is
	// closed or ctx is done. Used to hold a turn in flight for barge-in
	// and serialization tests.
	Block chan struct{}

	mu    sync.Mutex
	calls []Call
}

// Compile-time assertion that Orchestrator satisfies the interface.
var _ orchestrate.Orchestrator = (*Orchestrator)(nil)

// HandleTurn implements [orchestrate.Orchestrator].
func (o *Orchestrator) HandleTurn(ctx context.Context, conv *memory.Conversation, transcript string, sink telephony.Sink, callID string, voiceCall bool) error {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Transcript: transcript, CallID: callID, VoiceCall: voiceCall})
	block := o.Block
	o.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if o.Reply != "" && conv != nil {
		conv.Publish(ctx, memory.SpeakerAssistant, o.Reply, "")
	}
	return o.Err
}

// Calls returns a copy of the recorded invocations.
func (o *Orchestrator) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]Call, len(o.calls))
	copy(cp, o.calls)
	return cp
}

// CallCount returns the number of HandleTurn invocations so far.
func (o *Orchestrator) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}
