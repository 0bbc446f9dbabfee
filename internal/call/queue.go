package call

import (
	"context"
	"log/slog"
	"time"
)

const (
	// QueueCapacity is the fixed depth of the speech queue. Ten events is
	// several seconds of backlog at conversational pace; anything deeper
	// means the pipeline is wedged and old speech is stale anyway.
	QueueCapacity = 10

	// emergencyClearMax bounds how many of the oldest events an overflow
	// may evict to admit a new one.
	emergencyClearMax = 3
)

// Queue is the bounded FIFO between the recognition worker (producer) and
// the turn pipeline (consumer). Overflow drops the oldest events first.
//
// Enqueue is non-blocking and safe to call from the recognizer's callback
// context. Drain may run concurrently from a third context during barge-in.
type Queue struct {
	ch chan SpeechEvent
}

// NewQueue creates a queue with [QueueCapacity] slots.
func NewQueue() *Queue {
	return &Queue{ch: make(chan SpeechEvent, QueueCapacity)}
}

// Enqueue offers ev without blocking. When the queue is full it performs an
// emergency clear of up to min(emergencyClearMax, size/2) oldest events and
// retries once; if the queue is still full, ev itself is dropped.
//
// It returns the number of old events evicted and whether ev was admitted.
func (q *Queue) Enqueue(ev SpeechEvent) (cleared int, admitted bool) {
	select {
	case q.ch <- ev:
		return 0, true
	default:
	}

	// Full: evict the oldest few to make room.
	limit := min(emergencyClearMax, len(q.ch)/2)
	for range limit {
		select {
		case <-q.ch:
			cleared++
		default:
		}
	}

	select {
	case q.ch <- ev:
		return cleared, true
	default:
		slog.Warn("speech queue full after emergency clear, dropping event",
			"kind", ev.Kind.String(), "cleared", cleared)
		return cleared, false
	}
}

// Dequeue waits up to timeout for the next event. The boolean result is
// false on timeout or when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (SpeechEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-q.ch:
		return ev, true
	case <-timer.C:
		return SpeechEvent{}, false
	case <-ctx.Done():
		return SpeechEvent{}, false
	}
}

// Drain removes all pending events without blocking and returns how many
// were removed.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
