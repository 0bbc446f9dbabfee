package call

import (
	"context"
	"sync"
)

// Task is an in-flight orchestrator or playback invocation. It exposes only
// cancellation and completion; the work itself runs in a goroutine owned by
// whoever created the task.
type Task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewTask wraps a cancel function. The creator must call Finish exactly once
// when the work completes, fails, or observes cancellation.
func NewTask(cancel context.CancelFunc) *Task {
	return &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. Safe to call multiple times and
// after completion.
func (t *Task) Cancel() {
	t.cancel()
}

// Finish marks the task complete. Idempotent.
func (t *Task) Finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Done returns a channel closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsDone reports whether the task has finished.
func (t *Task) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Await blocks until the task finishes or ctx is done.
func (t *Task) Await(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskSlot holds at most one current task. The turn pipeline sets it while
// a turn is processing; the media reactor cancels it on barge-in. All
// methods are safe for concurrent use.
type TaskSlot struct {
	mu   sync.Mutex
	task *Task
}

// Set stores t as the current task. The previous task, if any, must already
// be done; Set replaces it unconditionally and returns the old task for the
// caller to verify.
func (s *TaskSlot) Set(t *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.task
	s.task = t
	return old
}

// Get returns the current task, which may be nil.
func (s *TaskSlot) Get() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// Clear removes t from the slot if it is still current. This keeps a slow
// finisher from clobbering a newer task.
func (s *TaskSlot) Clear(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == t {
		s.task = nil
	}
}

// CancelAndWait cancels the current task, if one exists and is not done,
// and waits for it to finish bounded by ctx. The slot is cleared on return.
// Safe to call concurrently and re-entrantly; at most one caller observes a
// non-nil task.
func (s *TaskSlot) CancelAndWait(ctx context.Context) error {
	s.mu.Lock()
	t := s.task
	s.task = nil
	s.mu.Unlock()

	if t == nil || t.IsDone() {
		return nil
	}
	t.Cancel()
	return t.Await(ctx)
}
