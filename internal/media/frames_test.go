package media

import (
	"encoding/base64"
	"testing"
)

func TestParseFrame_AudioMetadata_PascalCase(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"Kind": "AudioMetadata",
		"AudioMetadata": {
			"SubscriptionId": "sub-1",
			"Encoding": "PCM",
			"SampleRate": 16000,
			"Channels": 1,
			"Length": 640
		}
	}`)

	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if frame.Kind != FrameAudioMetadata {
		t.Fatalf("kind = %q", frame.Kind)
	}
	md := frame.Metadata
	if md.SubscriptionID != "sub-1" || md.Encoding != "PCM" || md.SampleRate != 16000 || md.Channels != 1 || md.Length != 640 {
		t.Errorf("metadata = %+v", md)
	}
}

func TestParseFrame_AudioMetadata_CamelCase(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"kind": "AudioMetadata",
		"audioMetadata": {
			"subscriptionId": "sub-2",
			"encoding": "PCM",
			"sampleRate": 24000,
			"channels": 2,
			"length": 960
		}
	}`)

	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	md := frame.Metadata
	if md.SubscriptionID != "sub-2" || md.SampleRate != 24000 || md.Channels != 2 {
		t.Errorf("metadata = %+v", md)
	}
}

func TestParseFrame_AudioData_BothSpellings(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	encoded := base64.StdEncoding.EncodeToString(pcm)

	cases := []struct {
		name string
		raw  string
	}{
		{"pascal", `{"Kind":"AudioData","AudioData":{"Data":"` + encoded + `","Timestamp":"2024-01-01T00:00:00Z","ParticipantRawID":"p1","Silent":false}}`},
		{"camel", `{"kind":"AudioData","audioData":{"data":"` + encoded + `","timestamp":"2024-01-01T00:00:00Z","participantRawID":"p1","silent":false}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseFrame() = %v", err)
			}
			if frame.Kind != FrameAudioData {
				t.Fatalf("kind = %q", frame.Kind)
			}
			ad := frame.Audio
			if string(ad.PCM) != string(pcm) {
				t.Errorf("pcm = %v, want %v", ad.PCM, pcm)
			}
			if ad.ParticipantID != "p1" {
				t.Errorf("participant = %q", ad.ParticipantID)
			}
			if ad.Silent {
				t.Error("silent = true")
			}
		})
	}
}

func TestParseFrame_AudioData_Silent(t *testing.T) {
	t.Parallel()

	frame, err := ParseFrame([]byte(`{"Kind":"AudioData","AudioData":{"Silent":true}}`))
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if !frame.Audio.Silent {
		t.Error("silent flag not parsed")
	}
	if len(frame.Audio.PCM) != 0 {
		t.Errorf("pcm = %v, want empty", frame.Audio.PCM)
	}
}

func TestParseFrame_AudioData_SilentDefaultsTrue(t *testing.T) {
	t.Parallel()

	// A frame that omits the flag makes no claim to carry speech; it must
	// come out silent so the reactor discards it.
	encoded := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	frame, err := ParseFrame([]byte(`{"Kind":"AudioData","AudioData":{"Data":"` + encoded + `"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if !frame.Audio.Silent {
		t.Error("silent = false for a frame without the flag")
	}

	explicit, err := ParseFrame([]byte(`{"kind":"AudioData","audioData":{"data":"` + encoded + `","silent":false}}`))
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if explicit.Audio.Silent {
		t.Error("silent = true despite an explicit false")
	}
}

func TestParseFrame_AudioData_BadBase64(t *testing.T) {
	t.Parallel()

	if _, err := ParseFrame([]byte(`{"Kind":"AudioData","AudioData":{"Data":"not-base64!!"}}`)); err == nil {
		t.Error("ParseFrame() = nil for invalid base64 payload")
	}
}

func TestParseFrame_Dtmf(t *testing.T) {
	t.Parallel()

	frame, err := ParseFrame([]byte(`{"Kind":"DtmfData","DtmfData":{"Data":"5"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() = %v", err)
	}
	if frame.Kind != FrameDtmfData || frame.Dtmf.Tone != "5" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestParseFrame_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := ParseFrame([]byte(`{"Kind":"Telemetry"}`)); err == nil {
		t.Error("ParseFrame() = nil for unknown kind")
	}
}

func TestParseFrame_MissingPayload(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"Kind":"AudioMetadata"}`,
		`{"Kind":"AudioData"}`,
		`{"Kind":"DtmfData"}`,
	} {
		if _, err := ParseFrame([]byte(raw)); err == nil {
			t.Errorf("ParseFrame(%s) = nil, want error", raw)
		}
	}
}

func TestParseFrame_InvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := ParseFrame([]byte(`{`)); err == nil {
		t.Error("ParseFrame() = nil for invalid JSON")
	}
}

func TestStopAudioFrame_WireShape(t *testing.T) {
	t.Parallel()

	want := `{"Kind":"StopAudio","AudioData":null,"StopAudio":{}}`
	if string(StopAudioFrame) != want {
		t.Errorf("StopAudioFrame = %s, want %s", StopAudioFrame, want)
	}
}
