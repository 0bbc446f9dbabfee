// Package mock provides an in-memory mock implementation of [telephony.Sink]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every frame sent so tests
// can assert on frame counts and payloads, and exposes state fields that the
// test can flip to simulate a disconnecting peer.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxgate/pkg/telephony"
)

// Compile-time assertion that Sink satisfies telephony.Sink.
var _ telephony.Sink = (*Sink)(nil)

// Sink is a mock [telephony.Sink]. The zero value is a connected sink.
// Set the error fields before use; inspect the recorded frames after.
type Sink struct {
	mu sync.Mutex

	// SendTextErr is returned by SendText after recording the payload.
	SendTextErr error

	// SendAudioErr is returned by SendAudio after recording the chunk.
	SendAudioErr error

	// TextFrames holds every payload passed to SendText, in order.
	TextFrames [][]byte

	// AudioChunks holds every PCM chunk passed to SendAudio, in order.
	AudioChunks [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	clientState telephony.ConnState
	appState    telephony.ConnState
	stateSet    bool
}

// SetStates overrides the reported connection states. Without a call to
// SetStates the mock reports connected on both sides.
func (s *Sink) SetStates(client, app telephony.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientState = client
	s.appState = app
	s.stateSet = true
}

// SendText implements [telephony.Sink].
func (s *Sink) SendText(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connectedLocked() {
		return telephony.ErrNotConnected
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.TextFrames = append(s.TextFrames, cp)
	return s.SendTextErr
}

// SendAudio implements [telephony.Sink].
func (s *Sink) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connectedLocked() {
		return telephony.ErrNotConnected
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.AudioChunks = append(s.AudioChunks, cp)
	return s.SendAudioErr
}

// ClientState implements [telephony.Sink].
func (s *Sink) ClientState() telephony.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stateSet {
		return telephony.StateConnected
	}
	return s.clientState
}

// ApplicationState implements [telephony.Sink].
func (s *Sink) ApplicationState() telephony.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stateSet {
		return telephony.StateConnected
	}
	return s.appState
}

// Connected implements [telephony.Sink].
func (s *Sink) Connected() bool {
	return s.ClientState() == telephony.StateConnected &&
		s.ApplicationState() == telephony.StateConnected
}

// Close implements [telephony.Sink]. It moves both states to StateClosed.
func (s *Sink) Close(_ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.clientState = telephony.StateClosed
	s.appState = telephony.StateClosed
	s.stateSet = true
	return nil
}

// Texts returns a copy of all recorded text frames.
func (s *Sink) Texts() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.TextFrames))
	copy(out, s.TextFrames)
	return out
}

// Audio returns a copy of all recorded audio chunks.
func (s *Sink) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.AudioChunks))
	copy(out, s.AudioChunks)
	return out
}

func (s *Sink) connectedLocked() bool {
	if !s.stateSet {
		return true
	}
	return s.clientState == telephony.StateConnected && s.appState == telephony.StateConnected
}
