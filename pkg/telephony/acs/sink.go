// Package acs provides the Azure Communication Services implementation of
// [telephony.Sink] on top of an accepted media-streaming WebSocket.
//
// ACS media streaming is full duplex on a single socket: the service streams
// caller audio to the gateway as JSON text frames, and the gateway streams
// synthesized audio and control frames back on the same connection. This
// package owns only the write half; inbound frames are read by the gateway
// handler and dispatched to the session engine.
package acs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/voxline/voxgate/pkg/telephony"
)

// Compile-time assertion that Sink satisfies telephony.Sink.
var _ telephony.Sink = (*Sink)(nil)

// outboundAudio is the JSON envelope for a synthesized audio frame sent back
// to ACS. Outbound frames use PascalCase keys, unlike the camelCase inbound
// frames.
type outboundAudio struct {
	Kind      string `json:"Kind"`
	AudioData *struct {
		Data string `json:"Data"`
	} `json:"AudioData"`
	StopAudio *struct{} `json:"StopAudio"`
}

// Sink is a [telephony.Sink] over an accepted ACS media WebSocket.
//
// The underlying connection is shared with the gateway's read loop; coder's
// websocket.Conn allows one concurrent reader and one concurrent writer, so
// writes from the reactor and the turn pipeline are serialized with writeMu.
type Sink struct {
	conn *websocket.Conn

	clientState atomic.Int32
	appState    atomic.Int32

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewSink wraps an accepted media WebSocket connection. The sink starts in
// the connected state on both sides.
func NewSink(conn *websocket.Conn) *Sink {
	s := &Sink{conn: conn}
	s.clientState.Store(int32(telephony.StateConnected))
	s.appState.Store(int32(telephony.StateConnected))
	return s
}

// SendText implements [telephony.Sink]. The payload must be a complete JSON
// frame; it is written as a single text message.
func (s *Sink) SendText(ctx context.Context, payload []byte) error {
	if !s.Connected() {
		return telephony.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.clientState.Store(int32(telephony.StateClosing))
		return fmt.Errorf("acs: send text frame: %w", err)
	}
	return nil
}

// SendAudio implements [telephony.Sink]. The PCM chunk is base64-encoded and
// wrapped in an outbound AudioData envelope.
func (s *Sink) SendAudio(ctx context.Context, pcm []byte) error {
	if !s.Connected() {
		return telephony.ErrNotConnected
	}

	frame := outboundAudio{Kind: "AudioData"}
	frame.AudioData = &struct {
		Data string `json:"Data"`
	}{Data: base64.StdEncoding.EncodeToString(pcm)}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("acs: encode audio frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.clientState.Store(int32(telephony.StateClosing))
		return fmt.Errorf("acs: send audio frame: %w", err)
	}
	return nil
}

// ClientState implements [telephony.Sink].
func (s *Sink) ClientState() telephony.ConnState {
	return telephony.ConnState(s.clientState.Load())
}

// ApplicationState implements [telephony.Sink].
func (s *Sink) ApplicationState() telephony.ConnState {
	return telephony.ConnState(s.appState.Load())
}

// Connected implements [telephony.Sink].
func (s *Sink) Connected() bool {
	return s.ClientState() == telephony.StateConnected &&
		s.ApplicationState() == telephony.StateConnected
}

// MarkClosing moves the application state to StateClosing. The session
// lifecycle calls this at the start of teardown so that in-flight senders
// skip the network instead of racing the close frame.
func (s *Sink) MarkClosing() {
	s.appState.Store(int32(telephony.StateClosing))
}

// MarkPeerGone records that the transport failed or the peer hung up.
// Subsequent sends return [telephony.ErrNotConnected] without touching the
// connection.
func (s *Sink) MarkPeerGone() {
	s.clientState.Store(int32(telephony.StateClosed))
}

// Close implements [telephony.Sink]. It sends at most one close frame.
func (s *Sink) Close(reason string) error {
	s.closeOnce.Do(func() {
		s.appState.Store(int32(telephony.StateClosing))
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, reason)
		s.clientState.Store(int32(telephony.StateClosed))
		s.appState.Store(int32(telephony.StateClosed))
	})
	return s.closeErr
}
