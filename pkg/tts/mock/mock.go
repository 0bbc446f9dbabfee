// Package mock provides an in-memory mock implementation of [tts.Provider]
// for use in unit tests.
//
// For every text fragment consumed, the mock emits one audio chunk whose
// bytes are the fragment itself, so tests can correlate synthesized audio
// with input text. Safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxgate/pkg/tts"
)

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock [tts.Provider].
type Provider struct {
	mu sync.Mutex

	// StartErr is returned by SynthesizeStream instead of a channel.
	StartErr error

	// Hold, when non-nil, delays each per-fragment emission until the
	// channel is closed. Used to keep a playback task in flight while a
	// test triggers barge-in.
	Hold chan struct{}

	// Fragments records every text fragment consumed, across all streams.
	Fragments []string

	// CallCountSynthesize records how many streams were started.
	CallCountSynthesize int
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.CallCountSynthesize++
	hold := p.Hold
	err := p.StartErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Fragments = append(p.Fragments, fragment)
				p.mu.Unlock()

				if hold != nil {
					select {
					case <-hold:
					case <-ctx.Done():
						return
					}
				}

				select {
				case audioCh <- []byte(fragment):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return audioCh, nil
}

// Consumed returns a copy of all fragments consumed so far.
func (p *Provider) Consumed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Fragments))
	copy(out, p.Fragments)
	return out
}
