package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony"
)

const (
	// defaultSystemPrompt is used when no host prompt is configured.
	defaultSystemPrompt = "You are a helpful voice assistant on a phone call. " +
		"Answer briefly and conversationally; the caller hears your reply as speech."

	// defaultHistoryWindow bounds how far back transcript history is loaded
	// when building the LLM prompt.
	defaultHistoryWindow = 10 * time.Minute

	// sentenceBuf is the buffer depth of the sentence channel feeding TTS.
	// Sized to absorb several sentences without blocking the LLM stream.
	sentenceBuf = 16
)

// Router is the default [Orchestrator]. It streams a chat completion from an
// any-llm backend and forwards the reply sentence-by-sentence into the TTS
// stream, so playback starts as soon as the first sentence is complete.
//
// Router is safe for concurrent use across sessions; per-session turn
// serialization is the engine's job.
type Router struct {
	backend  anyllmlib.Provider
	model    string
	playback *Playback

	systemPrompt  string
	historyWindow time.Duration
	replyLanguage string
	temperature   *float64
}

// Compile-time assertion that Router satisfies Orchestrator.
var _ Orchestrator = (*Router)(nil)

// RouterOption is a functional option for configuring a Router.
type RouterOption func(*Router)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(s string) RouterOption {
	return func(r *Router) { r.systemPrompt = s }
}

// WithHistoryWindow sets how far back transcript history is loaded for
// prompt context. Default is 10 minutes.
func WithHistoryWindow(d time.Duration) RouterOption {
	return func(r *Router) { r.historyWindow = d }
}

// WithReplyLanguage sets the language tag recorded on published assistant
// transcript entries.
func WithReplyLanguage(lang string) RouterOption {
	return func(r *Router) { r.replyLanguage = lang }
}

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) RouterOption {
	return func(r *Router) { r.temperature = &t }
}

// NewRouter creates a Router that completes with the given any-llm backend
// and model and plays replies through playback.
func NewRouter(backend anyllmlib.Provider, model string, playback *Playback, opts ...RouterOption) *Router {
	r := &Router{
		backend:       backend,
		model:         model,
		playback:      playback,
		systemPrompt:  defaultSystemPrompt,
		historyWindow: defaultHistoryWindow,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleTurn implements [Orchestrator]. It builds the prompt from the call's
// recent transcript history, streams the completion, and plays it sentence by
// sentence. The assistant reply is published to conv once complete; partial
// replies cut off by cancellation are published as-is so memory matches what
// the caller heard.
func (r *Router) HandleTurn(ctx context.Context, conv *memory.Conversation, transcript string, sink telephony.Sink, callID string, voiceCall bool) error {
	params := anyllmlib.CompletionParams{
		Model:       r.model,
		Messages:    r.buildMessages(ctx, conv, transcript, callID),
		Temperature: r.temperature,
	}

	chunks, errs := r.backend.CompletionStream(ctx, params)

	if !voiceCall {
		reply, err := r.collect(ctx, chunks, errs)
		if reply != "" {
			conv.Publish(ctx, memory.SpeakerAssistant, reply, r.replyLanguage)
		}
		if err != nil {
			return fmt.Errorf("orchestrate: completion stream: %w", err)
		}
		return nil
	}

	textCh := make(chan string, sentenceBuf)
	var reply string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(textCh)
		var err error
		reply, err = r.forwardSentences(gctx, chunks, errs, textCh)
		if err != nil {
			return fmt.Errorf("orchestrate: completion stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return r.playback.Stream(gctx, sink, textCh)
	})

	err := g.Wait()
	if reply != "" {
		conv.Publish(context.WithoutCancel(ctx), memory.SpeakerAssistant, reply, r.replyLanguage)
	}
	return err
}

// buildMessages assembles the chat history for the completion request. The
// caller utterance is already in the transcript store, so history normally
// carries it; transcript is appended only when history is missing or stale.
func (r *Router) buildMessages(ctx context.Context, conv *memory.Conversation, transcript, callID string) []anyllmlib.Message {
	msgs := []anyllmlib.Message{{
		Role:    anyllmlib.RoleSystem,
		Content: r.systemPrompt,
	}}

	if store := conv.Store(); store != nil {
		entries, err := store.Recent(ctx, callID, r.historyWindow)
		if err != nil {
			slog.Warn("router: load transcript history failed",
				"call_id", callID, "err", err)
		}
		for _, e := range entries {
			role := anyllmlib.RoleUser
			if e.Speaker == memory.SpeakerAssistant {
				role = anyllmlib.RoleAssistant
			}
			msgs = append(msgs, anyllmlib.Message{Role: role, Content: e.Text})
		}
	}

	if last := msgs[len(msgs)-1]; last.Role != anyllmlib.RoleUser || last.Content != transcript {
		msgs = append(msgs, anyllmlib.Message{
			Role:    anyllmlib.RoleUser,
			Content: transcript,
		})
	}
	return msgs
}

// forwardSentences reads completion chunks, accumulates them into complete
// sentences, and writes each sentence to textCh. Text remaining when the
// stream ends is flushed as a final fragment. Returns the full reply text.
func (r *Router) forwardSentences(ctx context.Context, chunks <-chan anyllmlib.ChatCompletionChunk, errs <-chan error, textCh chan<- string) (string, error) {
	var buf, full strings.Builder

	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				buf.WriteString(delta)
				full.WriteString(delta)
			}

			// Flush complete sentences eagerly for lower TTS latency.
			for {
				idx := sentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				if !flush(sentence) {
					return full.String(), ctx.Err()
				}
			}
		}
	}

	if buf.Len() > 0 {
		if !flush(buf.String()) {
			return full.String(), ctx.Err()
		}
	}

	// Backend errors are delivered after the chunk channel closes.
	select {
	case err := <-errs:
		return full.String(), err
	case <-ctx.Done():
		return full.String(), ctx.Err()
	}
}

// collect drains the completion stream into a single string without TTS.
func (r *Router) collect(ctx context.Context, chunks <-chan anyllmlib.ChatCompletionChunk, errs <-chan error) (string, error) {
	var full strings.Builder
loop:
	for {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if len(chunk.Choices) > 0 {
				full.WriteString(chunk.Choices[0].Delta.Content)
			}
		}
	}
	select {
	case err := <-errs:
		return full.String(), err
	case <-ctx.Done():
		return full.String(), ctx.Err()
	}
}

// sentenceBoundary returns the index of the first '.', '!', or '?' that is
// immediately followed by whitespace, or -1 when s holds no complete
// sentence yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
