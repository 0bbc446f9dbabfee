package media

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/voxline/voxgate/internal/call"
	"github.com/voxline/voxgate/internal/orchestrate"
	orchmock "github.com/voxline/voxgate/internal/orchestrate/mock"
	"github.com/voxline/voxgate/internal/recognition"
	"github.com/voxline/voxgate/internal/turn"
	"github.com/voxline/voxgate/pkg/asr"
	asrmock "github.com/voxline/voxgate/pkg/asr/mock"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony/mock"
	"github.com/voxline/voxgate/pkg/tts"
	ttsmock "github.com/voxline/voxgate/pkg/tts/mock"
)

// fixture bundles a Reactor with the collaborators the tests poke at.
type fixture struct {
	reactor *Reactor
	sink    *mock.Sink
	session *asrmock.Session
	queue   *call.Queue
}

func newFixture(t *testing.T, greeting string, onDtmf func(string)) *fixture {
	t.Helper()

	sess := asrmock.NewSession()
	queue := call.NewQueue()
	worker := recognition.NewWorker(sess, queue)
	sink := &mock.Sink{}

	playback := orchestrate.NewPlayback(&ttsmock.Provider{}, tts.Voice{ID: "alloy"})
	pipeline, err := turn.NewPipeline(turn.Config{
		Queue:        queue,
		Orchestrator: &orchmock.Orchestrator{},
		Playback:     playback,
		Sink:         sink,
		Conversation: memory.NewConversation(nil, "call-1", "sess-1"),
	})
	if err != nil {
		t.Fatalf("turn.NewPipeline: %v", err)
	}

	r, err := NewReactor(ReactorConfig{
		Sink:     sink,
		Worker:   worker,
		Pipeline: pipeline,
		Queue:    queue,
		Greeting: greeting,
		OnDtmf:   onDtmf,
	})
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	r.Bind(context.Background())

	return &fixture{reactor: r, sink: sink, session: sess, queue: queue}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

const metadataFrame = `{"Kind":"AudioMetadata","AudioMetadata":{"Encoding":"PCM","SampleRate":16000,"Channels":1}}`

func audioFrame(pcm []byte) []byte {
	return []byte(`{"Kind":"AudioData","AudioData":{"Silent":false,"Data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}}`)
}

func TestNewReactor_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewReactor(ReactorConfig{}); err == nil {
		t.Error("NewReactor() = nil error for an empty config")
	}
}

func TestReactor_MetadataStartsRecognitionAndGreets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "Hello, how can I help?", nil)
	ctx := context.Background()

	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("HandleFrame(metadata) = %v", err)
	}

	if f.session.CallCountStart != 1 {
		t.Errorf("session starts = %d, want 1", f.session.CallCountStart)
	}

	ev, ok := f.queue.Dequeue(ctx, time.Second)
	if !ok {
		t.Fatal("greeting not enqueued")
	}
	if ev.Kind != call.KindGreeting || ev.Text != "Hello, how can I help?" {
		t.Errorf("event = %+v", ev)
	}
}

func TestReactor_RenegotiationDoesNotRepeatGreeting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "Welcome.", nil)
	ctx := context.Background()

	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("first metadata: %v", err)
	}
	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("renegotiation: %v", err)
	}

	if f.queue.Len() != 1 {
		t.Errorf("queue depth = %d, want 1 greeting", f.queue.Len())
	}
	if f.session.CallCountStart != 1 {
		t.Errorf("session starts = %d, want 1", f.session.CallCountStart)
	}
}

func TestReactor_NoGreetingConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	if err := f.reactor.HandleFrame(context.Background(), []byte(metadataFrame)); err != nil {
		t.Fatalf("HandleFrame(metadata) = %v", err)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue depth = %d, want 0", f.queue.Len())
	}
}

func TestReactor_AudioReachesRecognizer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()

	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("metadata: %v", err)
	}

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	if err := f.reactor.HandleFrame(ctx, audioFrame(pcm)); err != nil {
		t.Fatalf("audio: %v", err)
	}

	waitFor(t, func() bool { return len(f.session.Written()) == 1 },
		"chunk never reached the recognizer")
	if got := f.session.Written()[0]; string(got) != string(pcm) {
		t.Errorf("written chunk = %v, want %v", got, pcm)
	}
}

func TestReactor_AudioIngestOffCriticalPath(t *testing.T) {
	t.Parallel()

	var tones []string
	f := newFixture(t, "", func(tone string) { tones = append(tones, tone) })
	ctx := context.Background()
	f.session.BlockWrites = make(chan struct{})

	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("metadata: %v", err)
	}

	// A wedged recognizer must not stall frame dispatch. The write runs as
	// an ingest task; HandleFrame returns before it completes.
	if err := f.reactor.HandleFrame(ctx, audioFrame([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if n := len(f.session.Written()); n != 0 {
		t.Fatalf("written chunks = %d, want 0 while writes are held", n)
	}
	waitFor(t, func() bool { return f.reactor.IngestsInFlight() == 1 },
		"ingest task never tracked")

	// Later frames still dispatch while the write is held.
	if err := f.reactor.HandleFrame(ctx, []byte(`{"Kind":"DtmfData","DtmfData":{"Data":"3"}}`)); err != nil {
		t.Fatalf("dtmf during held write: %v", err)
	}
	if len(tones) != 1 {
		t.Errorf("tones = %v, want [3]", tones)
	}

	close(f.session.BlockWrites)
	waitFor(t, func() bool { return len(f.session.Written()) == 1 },
		"held chunk never delivered")
	waitFor(t, func() bool { return f.reactor.IngestsInFlight() == 0 },
		"ingest task never removed from the in-flight set")
}

func TestReactor_AudioBeforeMetadataIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	if err := f.reactor.HandleFrame(context.Background(), audioFrame([]byte{1, 2})); err != nil {
		t.Fatalf("HandleFrame(audio) = %v", err)
	}
	if n := len(f.session.Written()); n != 0 {
		t.Errorf("written chunks = %d, want 0", n)
	}
}

func TestReactor_SilentAudioIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	if err := f.reactor.HandleFrame(ctx, []byte(metadataFrame)); err != nil {
		t.Fatalf("metadata: %v", err)
	}

	silent := `{"Kind":"AudioData","AudioData":{"Silent":true,"Data":"` +
		base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) + `"}}`
	if err := f.reactor.HandleFrame(ctx, []byte(silent)); err != nil {
		t.Fatalf("silent audio: %v", err)
	}
	if err := f.reactor.HandleFrame(ctx, []byte(`{"Kind":"AudioData","AudioData":{}}`)); err != nil {
		t.Fatalf("empty audio: %v", err)
	}

	// No silent flag at all: the default is silent, so the PCM is dropped.
	absent := `{"Kind":"AudioData","AudioData":{"Data":"` +
		base64.StdEncoding.EncodeToString([]byte{5, 6, 7, 8}) + `"}}`
	if err := f.reactor.HandleFrame(ctx, []byte(absent)); err != nil {
		t.Fatalf("flagless audio: %v", err)
	}

	if n := len(f.session.Written()); n != 0 {
		t.Errorf("written chunks = %d, want 0", n)
	}
}

func TestReactor_DtmfCallback(t *testing.T) {
	t.Parallel()

	var tones []string
	f := newFixture(t, "", func(tone string) { tones = append(tones, tone) })

	if err := f.reactor.HandleFrame(context.Background(), []byte(`{"Kind":"DtmfData","DtmfData":{"Data":"7"}}`)); err != nil {
		t.Fatalf("HandleFrame(dtmf) = %v", err)
	}
	if len(tones) != 1 || tones[0] != "7" {
		t.Errorf("tones = %v, want [7]", tones)
	}
}

func TestReactor_UnknownFrameReturnsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	if err := f.reactor.HandleFrame(context.Background(), []byte(`{"Kind":"Bogus"}`)); err == nil {
		t.Error("HandleFrame() = nil for an unknown frame kind")
	}
}

func TestReactor_BargeInStopsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)

	// Pending backlog makes the partial count as an interruption.
	f.queue.Enqueue(call.NewSpeechEvent(call.KindFinal, "queued reply"))

	f.reactor.SpeechStarted(asr.Result{Text: "actually wait"})

	waitFor(t, func() bool { return len(f.sink.Texts()) == 1 },
		"stop-audio frame never sent")

	if got := string(f.sink.Texts()[0]); got != string(StopAudioFrame) {
		t.Errorf("sent frame = %s, want %s", got, StopAudioFrame)
	}
	if f.queue.Len() != 0 {
		t.Errorf("backlog depth = %d, want 0 after barge-in", f.queue.Len())
	}
}

func TestReactor_BargeInDebounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)

	f.queue.Enqueue(call.NewSpeechEvent(call.KindFinal, "first"))
	f.reactor.SpeechStarted(asr.Result{Text: "hold on"})
	waitFor(t, func() bool { return len(f.sink.Texts()) == 1 },
		"first barge-in never completed")

	// A follow-up partial inside the debounce window is suppressed even
	// though the backlog is non-empty again.
	f.queue.Enqueue(call.NewSpeechEvent(call.KindFinal, "second"))
	f.reactor.SpeechStarted(asr.Result{Text: "and another thing"})

	time.Sleep(50 * time.Millisecond)
	if n := len(f.sink.Texts()); n != 1 {
		t.Errorf("stop-audio frames = %d, want 1", n)
	}
}

func TestReactor_BargeInFiresEvenWhenIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)

	// Nothing in flight and nothing queued, but the media service can still
	// hold buffered playback from a turn that just finished. A qualifying
	// partial always sends the stop-audio frame.
	f.reactor.SpeechStarted(asr.Result{Text: "hello there"})

	waitFor(t, func() bool { return len(f.sink.Texts()) == 1 },
		"stop-audio frame never sent on an idle engine")
	if got := string(f.sink.Texts()[0]); got != string(StopAudioFrame) {
		t.Errorf("sent frame = %s, want %s", got, StopAudioFrame)
	}
}
