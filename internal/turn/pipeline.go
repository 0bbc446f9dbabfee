// Package turn serializes conversation turns for one call session. A single
// consumer loop takes speech events off the queue and dispatches them one at
// a time, so at most one orchestrator or playback invocation is ever in
// flight per session.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/internal/orchestrate"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony"
)

const (
	// dequeueTimeout is how long the loop waits for the next event before
	// re-checking for shutdown.
	dequeueTimeout = 1 * time.Second

	// cancelWait bounds how long a barge-in waits for the in-flight task
	// to observe cancellation.
	cancelWait = 1 * time.Second
)

// Config carries the collaborators a Pipeline needs. All fields except
// Metrics and Logger are required.
type Config struct {
	Queue        *call.Queue
	Orchestrator orchestrate.Orchestrator
	Playback     *orchestrate.Playback
	Sink         telephony.Sink
	Conversation *memory.Conversation

	// CallID is the telephony call-connection id, passed through to the
	// orchestrator.
	CallID string

	// VoiceCall reports whether orchestrator replies should be synthesized
	// to audio.
	VoiceCall bool

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Pipeline is the per-session turn consumer. Start launches the loop; Stop
// shuts it down. CancelCurrent aborts the in-flight turn and clears the
// backlog, which is the barge-in path.
type Pipeline struct {
	cfg  Config
	slot call.TaskSlot

	cancelLoop context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPipeline validates cfg and creates a stopped pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Queue == nil || cfg.Orchestrator == nil || cfg.Playback == nil ||
		cfg.Sink == nil || cfg.Conversation == nil {
		return nil, fmt.Errorf("turn: incomplete pipeline config")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:  cfg,
		done: make(chan struct{}),
	}, nil
}

// Start launches the consumer loop. Idempotent; subsequent calls are no-ops.
// The loop runs until Stop or until ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		p.cancelLoop = cancel
		go p.loop(loopCtx)
	})
}

// Stop ends the loop and waits for it to exit, bounded by ctx. The loop is
// stopped before the in-flight task is cancelled, so no further task can be
// created in the window between the two.
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancelLoop != nil {
			p.cancelLoop()
		}
		if cerr := p.slot.CancelAndWait(ctx); cerr != nil {
			err = fmt.Errorf("turn: cancel in-flight task: %w", cerr)
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("turn: loop join: %w", ctx.Err())
			}
		}
	})
	return err
}

// CancelCurrent aborts the in-flight turn (if any) and drains the queued
// backlog. It returns the number of backlog events discarded. The wait for
// the in-flight task is bounded by cancelWait.
func (p *Pipeline) CancelCurrent(ctx context.Context) (drained int, err error) {
	drained = p.cfg.Queue.Drain()

	wctx, cancel := context.WithTimeout(ctx, cancelWait)
	defer cancel()
	if cerr := p.slot.CancelAndWait(wctx); cerr != nil {
		err = fmt.Errorf("turn: in-flight task did not stop in time: %w", cerr)
	}
	return drained, err
}

// InFlight reports whether a turn or direct playback is currently running.
func (p *Pipeline) InFlight() bool {
	t := p.slot.Get()
	return t != nil && !t.IsDone()
}

// loop is the single consumer of the speech queue.
func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := p.cfg.Queue.Dequeue(ctx, dequeueTimeout)
		if !ok {
			continue
		}
		p.dispatch(ctx, ev)
	}
}

// dispatch routes one event. It runs on the loop goroutine, so events are
// strictly serialized.
func (p *Pipeline) dispatch(ctx context.Context, ev call.SpeechEvent) {
	switch {
	case ev.Kind == call.KindError:
		p.cfg.Logger.Error("turn: recognition error surfaced",
			"call_id", p.cfg.CallID, "err", ev.Text)

	case ev.Kind.Direct():
		p.runDirect(ctx, ev)

	case ev.Kind == call.KindFinal:
		p.runTurn(ctx, ev)

	default:
		p.cfg.Logger.Warn("turn: unexpected event kind dequeued",
			"kind", ev.Kind.String())
	}
}

// runDirect plays a system utterance without the orchestrator. The playback
// occupies the task slot so a barge-in can cut it off.
func (p *Pipeline) runDirect(ctx context.Context, ev call.SpeechEvent) {
	tctx, cancel := context.WithCancel(ctx)
	t := call.NewTask(cancel)
	p.setCurrent(t)

	err := p.cfg.Playback.Say(tctx, p.cfg.Sink, ev.Text)
	t.Finish()
	p.slot.Clear(t)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		p.cfg.Logger.Warn("turn: direct playback failed",
			"call_id", p.cfg.CallID, "kind", ev.Kind.String(), "err", err)
	}
}

// runTurn publishes the caller utterance and hands it to the orchestrator.
func (p *Pipeline) runTurn(ctx context.Context, ev call.SpeechEvent) {
	p.cfg.Conversation.Publish(ctx, memory.SpeakerCaller, ev.Text, ev.Language)

	tctx, cancel := context.WithCancel(ctx)
	t := call.NewTask(cancel)
	p.setCurrent(t)

	start := time.Now()
	err := p.cfg.Orchestrator.HandleTurn(tctx, p.cfg.Conversation, ev.Text,
		p.cfg.Sink, p.cfg.CallID, p.cfg.VoiceCall)
	p.cfg.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())

	t.Finish()
	p.slot.Clear(t)
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		p.cfg.Logger.Info("turn: cancelled",
			"call_id", p.cfg.CallID, "elapsed", time.Since(start))
	default:
		p.cfg.Logger.Error("turn: orchestrator failed",
			"call_id", p.cfg.CallID, "err", err)
	}
}

// setCurrent installs t as the in-flight task. The previous task must be
// done; a live leftover means serialization broke, so it is cancelled.
func (p *Pipeline) setCurrent(t *call.Task) {
	if old := p.slot.Set(t); old != nil && !old.IsDone() {
		p.cfg.Logger.Error("turn: replaced a live in-flight task")
		old.Cancel()
	}
}
