package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxline/voxgate/pkg/audio"
	"github.com/voxline/voxgate/pkg/telephony"
	"github.com/voxline/voxgate/pkg/telephony/mock"
	"github.com/voxline/voxgate/pkg/tts"
	ttsmock "github.com/voxline/voxgate/pkg/tts/mock"
)

// passthroughPlayback builds a Playback whose source and output formats match,
// so the mock synthesizer's fragment-echo chunks reach the sink unmodified.
func passthroughPlayback(prov tts.Provider) *Playback {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return NewPlayback(prov, tts.Voice{ID: "alloy"},
		WithSourceFormat(f), WithOutputFormat(f))
}

func TestPlayback_SayDeliversAudio(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{}
	sink := &mock.Sink{}
	p := passthroughPlayback(prov)

	if err := p.Say(context.Background(), sink, "Good morning"); err != nil {
		t.Fatalf("Say() = %v", err)
	}

	chunks := sink.Audio()
	if len(chunks) != 1 || string(chunks[0]) != "Good morning" {
		t.Errorf("audio = %q, want the synthesized text", chunks)
	}
	if got := prov.Consumed(); len(got) != 1 || got[0] != "Good morning" {
		t.Errorf("consumed fragments = %v", got)
	}
}

func TestPlayback_StreamMultipleFragments(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{}
	sink := &mock.Sink{}
	p := passthroughPlayback(prov)

	fragments := make(chan string, 3)
	fragments <- "First sentence someone said."
	fragments <- "And then a second one."
	close(fragments)

	if err := p.Stream(context.Background(), sink, fragments); err != nil {
		t.Fatalf("Stream() = %v", err)
	}
	if n := len(sink.Audio()); n != 2 {
		t.Errorf("audio chunks = %d, want 2", n)
	}
}

func TestPlayback_StreamConvertsFormat(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{}
	sink := &mock.Sink{}
	// Default formats: 24kHz mono in, 16kHz mono out. Six bytes is three
	// samples at 24kHz, which downsamples to two samples (four bytes).
	p := NewPlayback(prov, tts.Voice{ID: "alloy"})

	if err := p.Say(context.Background(), sink, "abcdef"); err != nil {
		t.Fatalf("Say() = %v", err)
	}

	chunks := sink.Audio()
	if len(chunks) != 1 {
		t.Fatalf("audio chunks = %d, want 1", len(chunks))
	}
	if len(chunks[0]) != 4 {
		t.Errorf("converted chunk = %d bytes, want 4", len(chunks[0]))
	}
}

func TestPlayback_StreamSynthesisStartError(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{StartErr: errors.New("no credentials")}
	p := passthroughPlayback(prov)

	fragments := make(chan string)
	close(fragments)

	if err := p.Stream(context.Background(), &mock.Sink{}, fragments); err == nil {
		t.Error("Stream() = nil, want synthesis start error")
	}
}

func TestPlayback_StreamEndsQuietlyWhenPeerGone(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{}
	sink := &mock.Sink{SendAudioErr: telephony.ErrNotConnected}
	p := passthroughPlayback(prov)

	// The caller hung up mid-playback; there is nobody to play to, so the
	// stream ends without an error.
	if err := p.Say(context.Background(), sink, "Anyone there"); err != nil {
		t.Errorf("Say() = %v, want nil when the peer is gone", err)
	}
}

func TestPlayback_StreamSurfacesSinkErrors(t *testing.T) {
	t.Parallel()

	prov := &ttsmock.Provider{}
	sink := &mock.Sink{SendAudioErr: errors.New("write: broken pipe")}
	p := passthroughPlayback(prov)

	if err := p.Say(context.Background(), sink, "Hello caller"); err == nil {
		t.Error("Say() = nil, want sink error")
	}
}

func TestPlayback_StartCancellable(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	prov := &ttsmock.Provider{Hold: hold}
	sink := &mock.Sink{}
	p := passthroughPlayback(prov)

	task := p.Start(context.Background(), sink, "A long announcement")

	// Synthesis is held; the task must still be live.
	time.Sleep(20 * time.Millisecond)
	if task.IsDone() {
		t.Fatal("task finished while synthesis was held")
	}

	task.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Await(ctx); err != nil {
		t.Fatalf("Await() = %v", err)
	}
	if n := len(sink.Audio()); n != 0 {
		t.Errorf("audio chunks = %d, want 0 after cancellation", n)
	}
}
