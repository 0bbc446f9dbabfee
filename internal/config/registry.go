package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(ASRConfig) (asr.Provider, error)
	tts map[string]func(TTSConfig) (tts.Provider, error)
	llm map[string]func(LLMConfig) (anyllmlib.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(ASRConfig) (asr.Provider, error)),
		tts: make(map[string]func(TTSConfig) (tts.Provider, error)),
		llm: make(map[string]func(LLMConfig) (anyllmlib.Provider, error)),
	}
}

// RegisterASR registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ASRConfig) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLLM registers an LLM backend factory under name.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (anyllmlib.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateASR instantiates a recognizer using the factory registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateASR(cfg ASRConfig) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.asr[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates a synthesis provider using the factory registered
// under name.
func (r *Registry) CreateTTS(name string, cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateLLM instantiates an LLM backend using the factory registered under
// cfg.Provider.
func (r *Registry) CreateLLM(cfg LLMConfig) (anyllmlib.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
