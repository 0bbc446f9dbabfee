// Package media implements the inbound side of the telephony media stream:
// decoding streaming frames from the media WebSocket and reacting to them,
// including barge-in when the caller talks over playback.
package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FrameKind identifies an inbound media streaming frame.
type FrameKind string

const (
	// FrameAudioMetadata announces the audio format for the stream. Sent
	// once at stream start and again if the format renegotiates.
	FrameAudioMetadata FrameKind = "AudioMetadata"

	// FrameAudioData carries one chunk of caller PCM audio.
	FrameAudioData FrameKind = "AudioData"

	// FrameDtmfData carries one DTMF tone pressed by the caller.
	FrameDtmfData FrameKind = "DtmfData"
)

// StopAudioFrame is the outbound control frame that tells the media service
// to discard buffered playback immediately. The wire shape is fixed; it is
// sent verbatim.
var StopAudioFrame = []byte(`{"Kind":"StopAudio","AudioData":null,"StopAudio":{}}`)

// AudioMetadata describes the inbound audio format.
type AudioMetadata struct {
	SubscriptionID string
	Encoding       string
	SampleRate     int
	Channels       int
	Length         int
}

// AudioData is one decoded chunk of caller audio.
type AudioData struct {
	// PCM is the decoded audio payload.
	PCM []byte

	// Timestamp is the service-side capture timestamp, verbatim.
	Timestamp string

	// ParticipantID identifies the speaking participant, when available.
	ParticipantID string

	// Silent marks a chunk the service classified as silence. Silent
	// chunks carry no usable speech and are discarded. A frame that omits
	// the flag is treated as silent.
	Silent bool
}

// DtmfData is one DTMF tone.
type DtmfData struct {
	Tone string
}

// Frame is one parsed inbound frame. Exactly one payload field matching
// Kind is non-nil.
type Frame struct {
	Kind     FrameKind
	Metadata *AudioMetadata
	Audio    *AudioData
	Dtmf     *DtmfData
}

// The wire format is produced by more than one service version; some emit
// camelCase member names and some PascalCase. Both spellings are accepted
// for every field.
type wireFrame struct {
	Kind       string         `json:"kind"`
	KindP      string         `json:"Kind"`
	AudioMeta  *wireAudioMeta `json:"audioMetadata"`
	AudioMetaP *wireAudioMeta `json:"AudioMetadata"`
	AudioData  *wireAudioData `json:"audioData"`
	AudioDataP *wireAudioData `json:"AudioData"`
	DtmfData   *wireDtmfData  `json:"dtmfData"`
	DtmfDataP  *wireDtmfData  `json:"DtmfData"`
}

type wireAudioMeta struct {
	SubscriptionID  string `json:"subscriptionId"`
	SubscriptionIDP string `json:"SubscriptionId"`
	Encoding        string `json:"encoding"`
	EncodingP       string `json:"Encoding"`
	SampleRate      int    `json:"sampleRate"`
	SampleRateP     int    `json:"SampleRate"`
	Channels        int    `json:"channels"`
	ChannelsP       int    `json:"Channels"`
	Length          int    `json:"length"`
	LengthP         int    `json:"Length"`
}

type wireAudioData struct {
	Data          string `json:"data"`
	DataP         string `json:"Data"`
	Timestamp     string `json:"timestamp"`
	TimestampP    string `json:"Timestamp"`
	Participant   string `json:"participantRawID"`
	ParticipantP  string `json:"ParticipantRawID"`
	Silent        *bool  `json:"silent"`
	SilentP       *bool  `json:"Silent"`
}

type wireDtmfData struct {
	Data  string `json:"data"`
	DataP string `json:"Data"`
}

// pick returns the first non-empty string.
func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// pickInt returns the first non-zero int.
func pickInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// ParseFrame decodes one inbound media streaming frame. Unknown kinds are an
// error; callers log and skip them.
func ParseFrame(raw []byte) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return Frame{}, fmt.Errorf("media: decode frame: %w", err)
	}

	kind := FrameKind(pick(wf.Kind, wf.KindP))
	switch kind {
	case FrameAudioMetadata:
		wm := wf.AudioMeta
		if wm == nil {
			wm = wf.AudioMetaP
		}
		if wm == nil {
			return Frame{}, fmt.Errorf("media: AudioMetadata frame without payload")
		}
		return Frame{
			Kind: kind,
			Metadata: &AudioMetadata{
				SubscriptionID: pick(wm.SubscriptionID, wm.SubscriptionIDP),
				Encoding:       pick(wm.Encoding, wm.EncodingP),
				SampleRate:     pickInt(wm.SampleRate, wm.SampleRateP),
				Channels:       pickInt(wm.Channels, wm.ChannelsP),
				Length:         pickInt(wm.Length, wm.LengthP),
			},
		}, nil

	case FrameAudioData:
		wa := wf.AudioData
		if wa == nil {
			wa = wf.AudioDataP
		}
		if wa == nil {
			return Frame{}, fmt.Errorf("media: AudioData frame without payload")
		}
		// The silent flag defaults to true: a frame that does not claim
		// to carry speech is discarded rather than fed to the recognizer.
		silent := true
		if wa.Silent != nil {
			silent = *wa.Silent
		} else if wa.SilentP != nil {
			silent = *wa.SilentP
		}
		ad := &AudioData{
			Timestamp:     pick(wa.Timestamp, wa.TimestampP),
			ParticipantID: pick(wa.Participant, wa.ParticipantP),
			Silent:        silent,
		}
		if data := pick(wa.Data, wa.DataP); data != "" {
			pcm, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return Frame{}, fmt.Errorf("media: decode audio payload: %w", err)
			}
			ad.PCM = pcm
		}
		return Frame{Kind: kind, Audio: ad}, nil

	case FrameDtmfData:
		wd := wf.DtmfData
		if wd == nil {
			wd = wf.DtmfDataP
		}
		if wd == nil {
			return Frame{}, fmt.Errorf("media: DtmfData frame without payload")
		}
		return Frame{Kind: kind, Dtmf: &DtmfData{Tone: pick(wd.Data, wd.DataP)}}, nil

	default:
		return Frame{}, fmt.Errorf("media: unknown frame kind %q", pick(wf.Kind, wf.KindP))
	}
}
