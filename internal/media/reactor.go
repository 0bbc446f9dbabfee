package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/internal/recognition"
	"github.com/voxline/voxgate/internal/turn"
	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/telephony"
)

// bargeInDebounce suppresses repeat barge-ins while the caller keeps talking.
// Partials arrive every few hundred milliseconds during continuous speech;
// one interruption is enough.
const bargeInDebounce = 100 * time.Millisecond

// Reactor consumes inbound media frames for one session and drives the
// engine's reactions: starting recognition on the first metadata frame,
// feeding caller audio to the recognizer, playing the greeting, and cutting
// playback off when the caller barges in.
//
// HandleFrame is called from the session's single WebSocket read loop;
// barge-in runs on its own goroutine because it originates in recognizer
// callbacks.
type Reactor struct {
	sink     telephony.Sink
	worker   *recognition.Worker
	pipeline *turn.Pipeline
	queue    *call.Queue

	greeting string
	onDtmf   func(tone string)
	metrics  *observe.Metrics
	log      *slog.Logger

	// ctx is the session context, set by Bind before the first frame.
	ctx context.Context

	metadataSeen atomic.Bool
	greetingOnce sync.Once

	// ingests tracks audio-ingest tasks still running. Each task removes
	// itself on completion.
	ingestMu  sync.Mutex
	ingests   map[uint64]struct{}
	ingestSeq uint64

	bargeMu       sync.Mutex
	bargeInFlight bool
	lastBargeIn   time.Time
}

// ReactorConfig carries the collaborators a Reactor needs.
type ReactorConfig struct {
	Sink     telephony.Sink
	Worker   *recognition.Worker
	Pipeline *turn.Pipeline
	Queue    *call.Queue

	// Greeting, when non-empty, is spoken once when the media stream
	// announces its format.
	Greeting string

	// OnDtmf, when set, receives each DTMF tone.
	OnDtmf func(tone string)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// NewReactor validates cfg and creates a Reactor.
func NewReactor(cfg ReactorConfig) (*Reactor, error) {
	if cfg.Sink == nil || cfg.Worker == nil || cfg.Pipeline == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("media: incomplete reactor config")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reactor{
		sink:     cfg.Sink,
		worker:   cfg.Worker,
		pipeline: cfg.Pipeline,
		queue:    cfg.Queue,
		greeting: cfg.Greeting,
		onDtmf:   cfg.OnDtmf,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		ctx:      context.Background(),
		ingests:  make(map[uint64]struct{}),
	}, nil
}

// Bind sets the session context used for barge-in work started from
// recognizer callbacks. Call once before the first frame.
func (r *Reactor) Bind(ctx context.Context) {
	r.ctx = ctx
}

// HandleFrame processes one raw inbound frame. Parse failures and unknown
// kinds are returned for the caller to log; they never tear the stream down.
func (r *Reactor) HandleFrame(ctx context.Context, raw []byte) error {
	frame, err := ParseFrame(raw)
	if err != nil {
		return err
	}

	switch frame.Kind {
	case FrameAudioMetadata:
		return r.handleMetadata(ctx, frame.Metadata)
	case FrameAudioData:
		return r.handleAudio(ctx, frame.Audio)
	case FrameDtmfData:
		r.log.Info("media: dtmf received", "tone", frame.Dtmf.Tone)
		if r.onDtmf != nil {
			r.onDtmf(frame.Dtmf.Tone)
		}
		return nil
	}
	return nil
}

// handleMetadata starts recognition and schedules the greeting on the first
// metadata frame. Renegotiation frames are logged only; the recognizer
// session was configured from the initial format.
func (r *Reactor) handleMetadata(ctx context.Context, md *AudioMetadata) error {
	if !r.metadataSeen.CompareAndSwap(false, true) {
		r.log.Info("media: audio format renegotiated",
			"encoding", md.Encoding, "sample_rate", md.SampleRate,
			"channels", md.Channels)
		return nil
	}

	r.log.Info("media: stream started",
		"subscription_id", md.SubscriptionID, "encoding", md.Encoding,
		"sample_rate", md.SampleRate, "channels", md.Channels)

	if err := r.worker.Start(ctx); err != nil {
		return err
	}

	r.greetingOnce.Do(func() {
		if r.greeting == "" {
			return
		}
		if _, ok := r.queue.Enqueue(call.NewSpeechEvent(call.KindGreeting, r.greeting)); !ok {
			r.log.Warn("media: greeting dropped, queue full")
		}
	})
	return nil
}

// handleAudio feeds one caller audio chunk to the recognizer. Silent chunks
// are discarded without touching the recognizer. The write runs as its own
// ingest task so a slow recognizer never stalls frame dispatch; the worker's
// per-chunk timeout bounds each task.
func (r *Reactor) handleAudio(_ context.Context, ad *AudioData) error {
	if ad.Silent || len(ad.PCM) == 0 {
		return nil
	}
	if !r.worker.Started() {
		// Audio before metadata; the stream contract forbids it but a
		// chunk in flight during teardown is harmless.
		return nil
	}

	r.ingestMu.Lock()
	r.ingestSeq++
	id := r.ingestSeq
	r.ingests[id] = struct{}{}
	r.ingestMu.Unlock()

	go func() {
		defer func() {
			r.ingestMu.Lock()
			delete(r.ingests, id)
			r.ingestMu.Unlock()
		}()
		if err := r.worker.WriteAudio(r.ctx, ad.PCM); err != nil {
			r.log.Warn("media: audio ingest failed", "err", err)
		}
	}()
	return nil
}

// IngestsInFlight reports the number of audio-ingest tasks still running.
func (r *Reactor) IngestsInFlight() int {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	return len(r.ingests)
}

// SpeechStarted is the barge-in entry point, wired as the recognition
// worker's qualifying-partial callback. Every qualifying partial interrupts:
// the media service can still hold buffered playback after the engine goes
// idle. It runs on the recognizer's callback goroutine and must not block,
// so the interruption itself is spawned.
func (r *Reactor) SpeechStarted(res asr.Result) {
	r.bargeMu.Lock()
	if r.bargeInFlight || time.Since(r.lastBargeIn) < bargeInDebounce {
		r.bargeMu.Unlock()
		return
	}
	r.bargeInFlight = true
	r.bargeMu.Unlock()

	start := time.Now()
	go r.bargeIn(start, res.Text)
}

// bargeIn cancels the in-flight turn, clears the backlog, and tells the
// media service to flush buffered playback.
func (r *Reactor) bargeIn(start time.Time, partial string) {
	defer func() {
		r.bargeMu.Lock()
		r.bargeInFlight = false
		r.lastBargeIn = time.Now()
		r.bargeMu.Unlock()
	}()

	ctx := r.ctx
	drained, err := r.pipeline.CancelCurrent(ctx)
	if err != nil {
		r.log.Warn("media: barge-in cancel incomplete", "err", err)
	}

	if r.sink.Connected() {
		if err := r.sink.SendText(ctx, StopAudioFrame); err != nil {
			r.log.Warn("media: stop-audio send failed", "err", err)
		} else {
			r.metrics.StopAudioFrames.Add(ctx, 1)
		}
	}

	r.metrics.BargeIns.Add(ctx, 1)
	r.metrics.BargeInLatency.Record(ctx, time.Since(start).Seconds())
	r.log.Info("media: barge-in handled",
		"partial", partial, "drained", drained,
		"latency", time.Since(start))
}
