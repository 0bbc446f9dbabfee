package call

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	cleared, admitted := q.Enqueue(NewSpeechEvent(KindFinal, "hello"))
	if cleared != 0 || !admitted {
		t.Fatalf("Enqueue() = (%d, %v), want (0, true)", cleared, admitted)
	}

	ev, ok := q.Dequeue(context.Background(), time.Second)
	if !ok {
		t.Fatal("Dequeue() timed out")
	}
	if ev.Text != "hello" || ev.Kind != KindFinal {
		t.Errorf("event = %+v", ev)
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	start := time.Now()
	_, ok := q.Dequeue(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("Dequeue() = true on an empty queue")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Dequeue() returned before the timeout")
	}
}

func TestQueue_DequeueContextCancelled(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Dequeue(ctx, time.Minute); ok {
		t.Fatal("Dequeue() = true with a cancelled context")
	}
}

func TestQueue_OverflowEvictsOldest(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := range QueueCapacity {
		if _, admitted := q.Enqueue(NewSpeechEvent(KindFinal, fmt.Sprintf("ev-%d", i))); !admitted {
			t.Fatalf("Enqueue(ev-%d) not admitted while below capacity", i)
		}
	}

	cleared, admitted := q.Enqueue(NewSpeechEvent(KindFinal, "overflow"))
	if !admitted {
		t.Fatal("overflow event not admitted after emergency clear")
	}
	if cleared != 3 {
		t.Errorf("cleared = %d, want 3 (min of 3 and size/2)", cleared)
	}

	// The oldest three are gone; ev-3 is now at the head.
	ev, ok := q.Dequeue(context.Background(), time.Second)
	if !ok {
		t.Fatal("Dequeue() timed out")
	}
	if ev.Text != "ev-3" {
		t.Errorf("head after clear = %q, want ev-3", ev.Text)
	}
}

func TestQueue_EmergencyClearScalesWithOccupancy(t *testing.T) {
	t.Parallel()

	// A queue that is full at depth 1 has size/2 = 0, so nothing may be
	// evicted and the new event is dropped.
	q := &Queue{ch: make(chan SpeechEvent, 1)}
	q.Enqueue(NewSpeechEvent(KindFinal, "only"))

	cleared, admitted := q.Enqueue(NewSpeechEvent(KindFinal, "second"))
	if cleared != 0 {
		t.Errorf("cleared = %d, want 0", cleared)
	}
	if admitted {
		t.Error("second event admitted, want dropped")
	}

	ev, _ := q.Dequeue(context.Background(), time.Second)
	if ev.Text != "only" {
		t.Errorf("surviving event = %q, want only", ev.Text)
	}
}

func TestQueue_Drain(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := range 4 {
		q.Enqueue(NewSpeechEvent(KindFinal, fmt.Sprintf("ev-%d", i)))
	}
	if n := q.Drain(); n != 4 {
		t.Errorf("Drain() = %d, want 4", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", q.Len())
	}
	if n := q.Drain(); n != 0 {
		t.Errorf("second Drain() = %d, want 0", n)
	}
}

func TestQueue_LenCap(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if q.Cap() != QueueCapacity {
		t.Errorf("Cap() = %d, want %d", q.Cap(), QueueCapacity)
	}
	q.Enqueue(NewSpeechEvent(KindFinal, "a"))
	q.Enqueue(NewSpeechEvent(KindFinal, "b"))
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestEventKind_Direct(t *testing.T) {
	t.Parallel()

	direct := []EventKind{KindGreeting, KindAnnouncement, KindStatusUpdate, KindErrorMessage}
	for _, k := range direct {
		if !k.Direct() {
			t.Errorf("%v.Direct() = false, want true", k)
		}
	}
	for _, k := range []EventKind{KindPartial, KindFinal, KindError} {
		if k.Direct() {
			t.Errorf("%v.Direct() = true, want false", k)
		}
	}
}
