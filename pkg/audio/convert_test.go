package audio

import (
	"testing"
)

func samplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f    Format
		want string
	}{
		{Format{SampleRate: 24000, Channels: 1}, "24000Hz mono"},
		{Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{Format{SampleRate: 16000, Channels: 6}, "16000Hz 6ch"},
	}
	for _, c := range cases {
		if got := c.f.String(); got != c.want {
			t.Errorf("Format%+v.String() = %q, want %q", c.f, got, c.want)
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{100, -200, 300})
	out := bytesToSamples(MonoToStereo(in))

	want := []int16{100, 100, -200, -200, 300, 300}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{100, 200, -100, -300})
	out := bytesToSamples(StereoToMono(in))

	want := []int16{150, -200}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{32767, 32767, -32768, -32768})
	out := bytesToSamples(StereoToMono(in))

	if out[0] != 32767 {
		t.Errorf("positive average = %d, want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("negative average = %d, want -32768", out[1])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{1, 2, 3})
	out := ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 1000, 2000, 3000})
	out := bytesToSamples(ResampleMono16(in, 8000, 16000))

	if len(out) != 8 {
		t.Fatalf("got %d samples, want 8", len(out))
	}
	// Interpolated midpoints sit between their neighbours.
	if out[1] < 0 || out[1] > 1000 {
		t.Errorf("interpolated sample %d not in [0, 1000]", out[1])
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()

	in := samplesToBytes(make([]int16, 240)) // 10ms at 24kHz
	out := ResampleMono16(in, 24000, 16000)
	if len(out) != 320 { // 160 samples at 16kHz
		t.Errorf("got %d bytes, want 320", len(out))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{1, 2})
	if out := ResampleMono16(in, 0, 16000); len(out) != len(in) {
		t.Error("zero source rate should return input unchanged")
	}
	if out := ResampleMono16(in, 16000, 0); len(out) != len(in) {
		t.Error("zero target rate should return input unchanged")
	}
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes(make([]int16, 96)) // 48 stereo frames
	out := ResampleStereo16(in, 48000, 16000)
	if len(out) != 64 { // 16 stereo frames * 4 bytes
		t.Errorf("got %d bytes, want 64", len(out))
	}
}

func TestConverter_NoOp(t *testing.T) {
	t.Parallel()

	conv := Converter{
		Source: Format{SampleRate: 16000, Channels: 1},
		Target: Format{SampleRate: 16000, Channels: 1},
	}
	in := samplesToBytes([]int16{1, 2, 3})
	out := conv.Convert(in)
	if &out[0] != &in[0] {
		t.Error("matching formats should return the input unchanged")
	}
}

func TestConverter_FullConversion(t *testing.T) {
	t.Parallel()

	conv := Converter{
		Source: Format{SampleRate: 48000, Channels: 2},
		Target: Format{SampleRate: 16000, Channels: 1},
	}
	in := samplesToBytes(make([]int16, 96)) // 48 stereo frames at 48kHz
	out := conv.Convert(in)
	if len(out) != 32 { // 16 mono samples at 16kHz
		t.Errorf("got %d bytes, want 32", len(out))
	}
}

func TestConverter_SpeechToTelephony(t *testing.T) {
	t.Parallel()

	// The production path: 24kHz mono synthesis down to 16kHz mono.
	conv := Converter{
		Source: Format{SampleRate: 24000, Channels: 1},
		Target: Format{SampleRate: 16000, Channels: 1},
	}
	in := samplesToBytes(make([]int16, 2400)) // 100ms
	out := conv.Convert(in)
	if len(out) != 3200 { // 1600 samples
		t.Errorf("got %d bytes, want 3200", len(out))
	}
}

func TestConverter_OddByteCount(t *testing.T) {
	t.Parallel()

	conv := Converter{
		Source: Format{SampleRate: 24000, Channels: 1},
		Target: Format{SampleRate: 16000, Channels: 1},
	}
	if out := conv.Convert([]byte{0x01, 0x02, 0x03}); out != nil {
		t.Errorf("odd byte count should be dropped, got %d bytes", len(out))
	}
}

func TestConvertStream(t *testing.T) {
	t.Parallel()

	in := make(chan []byte, 4)
	out := ConvertStream(in,
		Format{SampleRate: 24000, Channels: 1},
		Format{SampleRate: 16000, Channels: 1},
	)

	in <- samplesToBytes(make([]int16, 240))
	in <- []byte{0x01}                      // misaligned, dropped
	in <- samplesToBytes(make([]int16, 24)) // 1ms
	close(in)

	var got [][]byte
	for chunk := range out {
		got = append(got, chunk)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if len(got[0]) != 320 {
		t.Errorf("first chunk = %d bytes, want 320", len(got[0]))
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()

	ch := make(chan []byte, 3)
	ch <- []byte{1}
	ch <- []byte{2}
	close(ch)
	Drain(ch) // must not block or panic
}
