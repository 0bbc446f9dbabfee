package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Conversation is the per-call memory handle held by the turn pipeline. It
// binds a Store to a call's identifiers and fans committed transcript lines
// out to in-process listeners.
//
// All methods are safe for concurrent use. Publish is best-effort by
// contract: store and listener failures are logged and swallowed so the
// voice loop is never blocked or failed by memory.
type Conversation struct {
	store     Store
	callID    string
	sessionID string

	mu        sync.Mutex
	listeners []func(Entry)
}

// NewConversation creates a Conversation for the given call. store may be
// nil, in which case Publish only notifies listeners.
func NewConversation(store Store, callID, sessionID string) *Conversation {
	return &Conversation{
		store:     store,
		callID:    callID,
		sessionID: sessionID,
	}
}

// SessionID returns the gateway session id this conversation belongs to.
func (c *Conversation) SessionID() string { return c.sessionID }

// CallID returns the telephony call-connection id.
func (c *Conversation) CallID() string { return c.callID }

// Store returns the backing store, which may be nil.
func (c *Conversation) Store() Store { return c.store }

// AddListener registers fn to be called for every published entry.
// Listeners run synchronously on the publishing goroutine and must be fast.
func (c *Conversation) AddListener(fn func(Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Publish records one utterance. It fills in the call identifiers and
// timestamp, appends to the store if one is configured, and notifies
// listeners. Failures are logged at warn and swallowed.
func (c *Conversation) Publish(ctx context.Context, speaker Speaker, text, language string) {
	entry := Entry{
		CallID:    c.callID,
		SessionID: c.sessionID,
		Speaker:   speaker,
		Text:      text,
		Language:  language,
		Timestamp: time.Now().UTC(),
	}

	if c.store != nil {
		if err := c.store.Append(ctx, entry); err != nil {
			slog.Warn("conversation: transcript append failed",
				"call_id", c.callID, "session_id", c.sessionID, "err", err)
		}
	}

	c.mu.Lock()
	listeners := make([]func(Entry), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
}
