// Package session assembles and drives the per-call engine: one controller
// per media WebSocket, owning the recognizer worker, speech queue, turn
// pipeline, and media reactor, plus the process-wide registry of live
// sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/lexicon"
	"github.com/voxline/voxgate/internal/media"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/internal/orchestrate"
	"github.com/voxline/voxgate/internal/recognition"
	"github.com/voxline/voxgate/internal/turn"
	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony"
)

// StopTimeout bounds a full session shutdown: recognizer join plus in-flight
// task cancellation.
const StopTimeout = 3 * time.Second

// Config carries everything a Controller needs for one call.
type Config struct {
	// SessionID is the gateway-assigned session identifier.
	SessionID string

	// CallID is the telephony call-connection id from the signaling
	// correlation headers.
	CallID string

	Sink         telephony.Sink
	ASR          asr.Provider
	ASRConfig    asr.Config
	Orchestrator orchestrate.Orchestrator
	Playback     *orchestrate.Playback

	// Store persists transcripts; may be nil.
	Store memory.Store

	// Greeting is spoken once when the media stream starts; empty
	// disables it.
	Greeting string

	// Vocabulary lists domain terms that final transcripts are corrected
	// against. May be empty.
	Vocabulary []string

	// VoiceCall reports whether orchestrator replies are synthesized.
	VoiceCall bool

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Controller runs the engine for one call. Lifecycle is New, Start,
// HandleMedia for every inbound frame, then Stop. Start and Stop are
// idempotent; HandleMedia must not be called after Stop.
type Controller struct {
	cfg  Config
	log  *slog.Logger
	sink telephony.Sink

	queue    *call.Queue
	worker   *recognition.Worker
	pipeline *turn.Pipeline
	reactor  *media.Reactor
	conv     *memory.Conversation

	started   atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
}

// New assembles a Controller. The recognizer session is created and its
// audio sink prepared here, before any caller audio can arrive.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Sink == nil || cfg.ASR == nil || cfg.Orchestrator == nil || cfg.Playback == nil {
		return nil, fmt.Errorf("session: incomplete controller config")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		cfg:  cfg,
		log:  cfg.Logger.With("session_id", cfg.SessionID, "call_id", cfg.CallID),
		sink: cfg.Sink,
	}

	sess, err := cfg.ASR.NewSession(ctx, cfg.ASRConfig)
	if err != nil {
		return nil, fmt.Errorf("session: create recognizer session: %w", err)
	}

	c.queue = call.NewQueue()
	workerOpts := []recognition.Option{
		recognition.WithSpeechStarted(c.speechStarted),
		recognition.WithMetrics(cfg.Metrics),
		recognition.WithLogger(c.log),
	}
	if len(cfg.Vocabulary) > 0 {
		workerOpts = append(workerOpts, recognition.WithCorrector(lexicon.New(cfg.Vocabulary)))
	}
	c.worker = recognition.NewWorker(sess, c.queue, workerOpts...)

	// The sink must exist before the first PCM chunk so early caller
	// audio is buffered, not lost, while recognition spins up.
	if err := c.worker.PrepareSink(); err != nil {
		return nil, err
	}

	c.conv = memory.NewConversation(cfg.Store, cfg.CallID, cfg.SessionID)

	c.pipeline, err = turn.NewPipeline(turn.Config{
		Queue:        c.queue,
		Orchestrator: cfg.Orchestrator,
		Playback:     cfg.Playback,
		Sink:         cfg.Sink,
		Conversation: c.conv,
		CallID:       cfg.CallID,
		VoiceCall:    cfg.VoiceCall,
		Metrics:      cfg.Metrics,
		Logger:       c.log,
	})
	if err != nil {
		return nil, err
	}

	c.reactor, err = media.NewReactor(media.ReactorConfig{
		Sink:     cfg.Sink,
		Worker:   c.worker,
		Pipeline: c.pipeline,
		Queue:    c.queue,
		Greeting: cfg.Greeting,
		Metrics:  cfg.Metrics,
		Logger:   c.log,
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Start launches the turn pipeline and binds the session context.
// Idempotent.
func (c *Controller) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.startedAt = time.Now()
	c.reactor.Bind(ctx)
	c.pipeline.Start(ctx)
	c.log.Info("session: started")
}

// HandleMedia processes one raw inbound media frame from the WebSocket read
// loop. Frame failures are logged and swallowed: a bad frame never tears the
// call down, and recognizer trouble surfaces through the speech queue as an
// error event instead.
func (c *Controller) HandleMedia(ctx context.Context, raw []byte) {
	if c.stopped.Load() {
		return
	}
	if err := c.reactor.HandleFrame(ctx, raw); err != nil {
		c.log.Warn("session: frame handling failed", "err", err)
	}
}

// Conversation returns the call's memory handle.
func (c *Controller) Conversation() *memory.Conversation { return c.conv }

// Announce queues a system utterance for playback between turns.
func (c *Controller) Announce(text string) {
	if _, ok := c.queue.Enqueue(call.NewSpeechEvent(call.KindAnnouncement, text)); !ok {
		c.log.Warn("session: announcement dropped, queue full")
	}
}

// Stop tears the session down: recognizer join first so no more events are
// produced, then the pipeline with its in-flight task. Total wait is
// bounded by [StopTimeout]. Idempotent; the first error wins.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()

	var firstErr error
	if err := c.worker.Stop(sctx); err != nil {
		firstErr = err
		c.log.Warn("session: recognizer stop failed", "err", err)
	}
	if err := c.pipeline.Stop(sctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		c.log.Warn("session: pipeline stop failed", "err", err)
	}

	if dropped := c.queue.Drain(); dropped > 0 {
		c.log.Info("session: discarded queued events on stop", "count", dropped)
	}

	c.log.Info("session: stopped", "uptime", time.Since(c.startedAt))
	return firstErr
}

// Stopped reports whether Stop has been called.
func (c *Controller) Stopped() bool { return c.stopped.Load() }

// speechStarted forwards qualifying partials to the reactor's barge-in
// handling. Registered as the worker callback before the reactor exists, so
// it guards against early delivery.
func (c *Controller) speechStarted(res asr.Result) {
	if c.reactor != nil {
		c.reactor.SpeechStarted(res)
	}
}

// Snapshot is a point-in-time view of one session for health reporting.
type Snapshot struct {
	SessionID    string    `json:"sessionId"`
	CallID       string    `json:"callId"`
	StartedAt    time.Time `json:"startedAt"`
	UptimeSec    float64   `json:"uptimeSec"`
	Recognizing  bool      `json:"recognizing"`
	QueueDepth   int       `json:"queueDepth"`
	TurnInFlight bool      `json:"turnInFlight"`
	IngestTasks  int       `json:"ingestTasks"`
	SinkState    string    `json:"sinkState"`
}

// Snapshot captures the session's current state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		SessionID:    c.cfg.SessionID,
		CallID:       c.cfg.CallID,
		StartedAt:    c.startedAt,
		UptimeSec:    time.Since(c.startedAt).Seconds(),
		Recognizing:  c.worker.Started(),
		QueueDepth:   c.queue.Len(),
		TurnInFlight: c.pipeline.InFlight(),
		IngestTasks:  c.reactor.IngestsInFlight(),
		SinkState:    c.sink.ApplicationState().String(),
	}
}
