// Package telephony defines the outbound media sink abstraction toward the
// telephony peer.
//
// A Sink is the write half of a call's media WebSocket: it accepts JSON
// control frames (e.g. StopAudio) and synthesized audio payload frames and
// delivers them to the peer. Every send is gated on the sink's connection
// state so that no frame is written after the socket has left the connected
// state. Implementations must be safe for concurrent use; the engine writes
// to the sink from both the media reactor (barge-in control frames) and the
// turn pipeline (playback audio).
package telephony

import "context"

// ConnState describes one side of the sink's connection state. The engine
// tracks two: the transport ("client") state of the underlying socket and the
// application state set by the session lifecycle.
type ConnState int32

const (
	// StateConnecting is the initial state before the WebSocket handshake
	// completes.
	StateConnecting ConnState = iota

	// StateConnected means frames may be sent.
	StateConnected

	// StateClosing means a close has been initiated; sends are skipped and
	// send failures are expected.
	StateClosing

	// StateClosed means the connection is gone.
	StateClosed
)

// String returns the lowercase name of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Sink is the outbound frame sink toward the telephony peer.
//
// All methods must be safe for concurrent use. SendText and SendAudio must
// return ErrNotConnected without touching the network when either state is
// not StateConnected.
type Sink interface {
	// SendText writes one JSON text frame to the peer. The payload must be a
	// complete, encoded frame (e.g. a StopAudio control frame).
	SendText(ctx context.Context, payload []byte) error

	// SendAudio wraps a chunk of synthesized PCM16 audio in an outbound
	// audio frame and writes it to the peer.
	SendAudio(ctx context.Context, pcm []byte) error

	// ClientState reports the transport-level connection state.
	ClientState() ConnState

	// ApplicationState reports the application-level connection state, which
	// the session lifecycle moves to StateClosing ahead of teardown.
	ApplicationState() ConnState

	// Connected reports whether both states are StateConnected.
	Connected() bool

	// Close moves the sink to StateClosed and releases the underlying
	// connection. Close is idempotent; at most one close frame is emitted.
	Close(reason string) error
}
