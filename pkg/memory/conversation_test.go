package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/memory/mock"
)

func TestConversation_PublishAppendsToStore(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	conv := memory.NewConversation(store, "call-1", "sess-1")

	conv.Publish(context.Background(), memory.SpeakerCaller, "hello there", "en")

	entries := store.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.CallID != "call-1" || e.SessionID != "sess-1" {
		t.Errorf("identity = %+v", e)
	}
	if e.Speaker != memory.SpeakerCaller || e.Text != "hello there" || e.Language != "en" {
		t.Errorf("entry = %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestConversation_PublishWithoutStore(t *testing.T) {
	t.Parallel()

	conv := memory.NewConversation(nil, "call-1", "sess-1")

	var got []memory.Entry
	conv.AddListener(func(e memory.Entry) { got = append(got, e) })

	conv.Publish(context.Background(), memory.SpeakerAssistant, "how can I help", "")

	if len(got) != 1 || got[0].Speaker != memory.SpeakerAssistant {
		t.Errorf("listener entries = %+v", got)
	}
}

func TestConversation_StoreFailureStillNotifiesListeners(t *testing.T) {
	t.Parallel()

	store := &mock.Store{AppendErr: errors.New("connection refused")}
	conv := memory.NewConversation(store, "call-1", "sess-1")

	notified := false
	conv.AddListener(func(memory.Entry) { notified = true })

	// Publish is best-effort; a failing store never blocks the voice loop.
	conv.Publish(context.Background(), memory.SpeakerCaller, "hello", "en")

	if !notified {
		t.Error("listener not notified after store failure")
	}
}

func TestConversation_MultipleListeners(t *testing.T) {
	t.Parallel()

	conv := memory.NewConversation(nil, "call-1", "sess-1")

	count := 0
	conv.AddListener(func(memory.Entry) { count++ })
	conv.AddListener(func(memory.Entry) { count++ })

	conv.Publish(context.Background(), memory.SpeakerCaller, "hello", "en")

	if count != 2 {
		t.Errorf("notifications = %d, want 2", count)
	}
}

func TestConversation_Accessors(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	conv := memory.NewConversation(store, "call-1", "sess-1")

	if conv.CallID() != "call-1" || conv.SessionID() != "sess-1" {
		t.Errorf("identity = %q/%q", conv.CallID(), conv.SessionID())
	}
	if conv.Store() != memory.Store(store) {
		t.Error("Store() did not return the backing store")
	}
}

func TestMockStore_RecentFiltersByCallAndWindow(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	ctx := context.Background()

	now := time.Now().UTC()
	_ = store.Append(ctx, memory.Entry{CallID: "call-1", Text: "recent", Timestamp: now})
	_ = store.Append(ctx, memory.Entry{CallID: "call-1", Text: "ancient", Timestamp: now.Add(-time.Hour)})
	_ = store.Append(ctx, memory.Entry{CallID: "call-2", Text: "other", Timestamp: now})

	got, err := store.Recent(ctx, "call-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Recent() = %v", err)
	}
	if len(got) != 1 || got[0].Text != "recent" {
		t.Errorf("entries = %+v, want only the recent call-1 entry", got)
	}
}
