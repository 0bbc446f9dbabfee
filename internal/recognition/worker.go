// Package recognition adapts a streaming speech recognizer to the call
// engine: it feeds caller audio into the recognizer under a bounded write
// budget and turns recognizer callbacks into speech events and barge-in
// signals.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/lexicon"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/pkg/asr"
)

const (
	// writeTimeout bounds a single audio chunk hand-off to the recognizer.
	// A recognizer that cannot accept 20 ms of audio in 500 ms is stalled;
	// dropping the chunk keeps the media loop responsive.
	writeTimeout = 500 * time.Millisecond

	// stopJoinTimeout bounds the wait for the recognizer session to drain
	// and join during shutdown.
	stopJoinTimeout = 2 * time.Second

	// bargeInMinLen is the minimum trimmed partial length that counts as
	// real speech for barge-in. Shorter partials are recognizer noise.
	bargeInMinLen = 3

	// finalMinLen is the minimum trimmed final length worth a turn.
	finalMinLen = 1
)

// Worker owns one recognizer session for the lifetime of a call. It writes
// caller audio in, and publishes finals and errors to the speech queue while
// reporting qualifying partials to the barge-in callback.
//
// Callbacks from the recognizer session may arrive on any goroutine; Worker
// methods are safe for concurrent use.
type Worker struct {
	session asr.SessionHandle
	queue   *call.Queue
	metrics *observe.Metrics
	log     *slog.Logger

	// onSpeechStarted is invoked for every qualifying partial. The media
	// reactor uses it to schedule barge-in.
	onSpeechStarted func(asr.Result)

	// corrector aligns finals with the domain vocabulary before they are
	// queued. Nil disables correction.
	corrector *lexicon.Corrector

	started  atomic.Bool
	prepared atomic.Bool
}

// Option configures a Worker during construction.
type Option func(*Worker)

// WithSpeechStarted sets the callback invoked for every qualifying partial
// recognition result.
func WithSpeechStarted(fn func(asr.Result)) Option {
	return func(w *Worker) { w.onSpeechStarted = fn }
}

// WithCorrector sets the vocabulary corrector applied to final transcripts.
func WithCorrector(c *lexicon.Corrector) Option {
	return func(w *Worker) { w.corrector = c }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// NewWorker wires a recognizer session to the speech queue. The session's
// callbacks are registered here; the session must not be started yet.
func NewWorker(session asr.SessionHandle, queue *call.Queue, opts ...Option) *Worker {
	w := &Worker{
		session: session,
		queue:   queue,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}

	session.OnPartial(w.handlePartial)
	session.OnFinal(w.handleFinal)
	session.OnError(w.handleError)
	return w
}

// PrepareSink creates the recognizer's audio sink ahead of the first PCM
// chunk. It must be called before Start so that no early caller audio is
// lost while the recognizer spins up.
func (w *Worker) PrepareSink() error {
	if err := w.session.PrepareSink(); err != nil {
		return fmt.Errorf("recognition: prepare sink: %w", err)
	}
	w.prepared.Store(true)
	return nil
}

// Start begins continuous recognition. Idempotent; only the first call
// starts the session.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := w.session.Start(ctx); err != nil {
		w.started.Store(false)
		return fmt.Errorf("recognition: start session: %w", err)
	}
	return nil
}

// Started reports whether recognition has begun.
func (w *Worker) Started() bool {
	return w.started.Load()
}

// WriteAudio hands one PCM chunk to the recognizer, waiting at most
// [writeTimeout]. A chunk that cannot be accepted in time is dropped and
// counted; the caller keeps streaming.
func (w *Worker) WriteAudio(ctx context.Context, pcm []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	err := w.session.WriteAudio(wctx, pcm)
	w.metrics.AudioIngestDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			w.metrics.AudioChunksDropped.Add(ctx, 1)
			w.log.Warn("recognition: audio write timed out, chunk dropped",
				"bytes", len(pcm))
			return nil
		}
		return fmt.Errorf("recognition: write audio: %w", err)
	}
	return nil
}

// Stop ends recognition and joins the session, bounded by [stopJoinTimeout]
// on top of ctx. Idempotent through the underlying session.
func (w *Worker) Stop(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, stopJoinTimeout)
	defer cancel()

	if err := w.session.Stop(sctx); err != nil {
		return fmt.Errorf("recognition: stop session: %w", err)
	}
	return nil
}

// ─── Recognizer callbacks ─────────────────────────────────────────────────────

func (w *Worker) handlePartial(res asr.Result) {
	if len(strings.TrimSpace(res.Text)) <= bargeInMinLen {
		return
	}
	w.log.Debug("recognition: partial", "text", res.Text, "language", res.Language)
	if w.onSpeechStarted != nil {
		w.onSpeechStarted(res)
	}
}

func (w *Worker) handleFinal(res asr.Result) {
	if len(strings.TrimSpace(res.Text)) <= finalMinLen {
		return
	}

	text := res.Text
	if w.corrector != nil && !w.corrector.Empty() {
		corrected, corrections := w.corrector.Correct(text)
		for _, c := range corrections {
			w.log.Debug("recognition: vocabulary correction",
				"heard", c.Heard, "term", c.Term, "confidence", c.Confidence)
		}
		text = corrected
	}

	ev := call.NewSpeechEvent(call.KindFinal, text)
	ev.Language = res.Language
	ev.SpeakerID = res.SpeakerID

	w.enqueue(ev)
}

func (w *Worker) handleError(err error) {
	w.log.Error("recognition: session error", "err", err)
	w.enqueue(call.NewSpeechEvent(call.KindError, err.Error()))
}

// enqueue publishes ev to the speech queue and records any overflow drops.
func (w *Worker) enqueue(ev call.SpeechEvent) {
	cleared, admitted := w.queue.Enqueue(ev)
	if cleared > 0 {
		w.metrics.SpeechEventsDropped.Add(context.Background(), int64(cleared),
			metric.WithAttributes(attribute.String("reason", "emergency_clear")))
	}
	if !admitted {
		w.metrics.SpeechEventsDropped.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", "still_full")))
	}
}
