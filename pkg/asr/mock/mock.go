// Package mock provides in-memory mock implementations of [asr.Provider]
// and [asr.SessionHandle] for use in unit tests.
//
// The mock session records every method call and exposes Fire* methods so
// tests can simulate the recognizer's callback thread:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	...
//	sess.FirePartial(asr.Result{Text: "Actually I need"})
//
// All mocks are safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxgate/pkg/asr"
)

// Compile-time assertions.
var (
	_ asr.Provider      = (*Provider)(nil)
	_ asr.SessionHandle = (*Session)(nil)
)

// Provider is a mock [asr.Provider]. Set Session before use.
type Provider struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh [Session] is
	// created per call.
	Session *Session

	// NewSessionErr is returned by NewSession instead of a session.
	NewSessionErr error

	// NewSessionCalls records the configs passed to NewSession.
	NewSessionCalls []asr.Config
}

// NewSession implements [asr.Provider].
func (p *Provider) NewSession(_ context.Context, cfg asr.Config) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewSessionCalls = append(p.NewSessionCalls, cfg)
	if p.NewSessionErr != nil {
		return nil, p.NewSessionErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Session is a mock [asr.SessionHandle].
type Session struct {
	mu sync.Mutex

	// PrepareSinkErr, StartErr, WriteAudioErr, and StopErr are returned by
	// the corresponding methods after recording the call.
	PrepareSinkErr error
	StartErr       error
	WriteAudioErr  error
	StopErr        error

	// BlockWrites, when non-nil, makes WriteAudio block until the channel
	// is closed or the caller's context is done. Used to exercise the
	// per-chunk write timeout.
	BlockWrites chan struct{}

	// Call records.
	CallCountPrepareSink int
	CallCountStart       int
	CallCountStop        int
	WrittenChunks        [][]byte

	onPartial func(asr.Result)
	onFinal   func(asr.Result)
	onError   func(error)
}

// NewSession creates an empty mock session.
func NewSession() *Session {
	return &Session{}
}

// PrepareSink implements [asr.SessionHandle].
func (s *Session) PrepareSink() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPrepareSink++
	return s.PrepareSinkErr
}

// Start implements [asr.SessionHandle].
func (s *Session) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartErr
}

// WriteAudio implements [asr.SessionHandle]. It records the chunk unless
// BlockWrites is set and the context expires first.
func (s *Session) WriteAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	block := s.BlockWrites
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.WrittenChunks = append(s.WrittenChunks, cp)
	return s.WriteAudioErr
}

// OnPartial implements [asr.SessionHandle].
func (s *Session) OnPartial(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = cb
}

// OnFinal implements [asr.SessionHandle].
func (s *Session) OnFinal(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinal = cb
}

// OnError implements [asr.SessionHandle].
func (s *Session) OnError(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// Stop implements [asr.SessionHandle].
func (s *Session) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopErr
}

// FirePartial invokes the registered partial callback synchronously,
// mimicking delivery on the recognizer's own thread.
func (s *Session) FirePartial(r asr.Result) {
	s.mu.Lock()
	cb := s.onPartial
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

// FireFinal invokes the registered final callback synchronously.
func (s *Session) FireFinal(r asr.Result) {
	s.mu.Lock()
	cb := s.onFinal
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

// FireError invokes the registered error callback synchronously.
func (s *Session) FireError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Written returns a copy of all chunks passed to WriteAudio.
func (s *Session) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.WrittenChunks))
	copy(out, s.WrittenChunks)
	return out
}
