// Package call holds the shared per-call data model of the media engine:
// speech events, the bounded speech queue between the recognition worker and
// the turn pipeline, and the single-slot task holder used for in-flight
// orchestrator and playback work.
package call

import "time"

// EventKind discriminates speech events.
type EventKind int

const (
	// KindPartial is a transient interim recognition result. Partials are
	// never enqueued to the turn pipeline; they drive barge-in only.
	KindPartial EventKind = iota

	// KindFinal is an authoritative recognition result that starts a turn.
	KindFinal

	// KindError carries a recognition error through the queue so the
	// pipeline can log it in order.
	KindError

	// KindGreeting is the system-originated first utterance of a session.
	KindGreeting

	// KindAnnouncement is a system-originated mid-call utterance.
	KindAnnouncement

	// KindStatusUpdate is a short system-originated progress utterance
	// played while a slow turn is in flight.
	KindStatusUpdate

	// KindErrorMessage is a system-originated spoken error notice.
	KindErrorMessage
)

// String returns the name of the kind for logging.
func (k EventKind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	case KindGreeting:
		return "greeting"
	case KindAnnouncement:
		return "announcement"
	case KindStatusUpdate:
		return "status_update"
	case KindErrorMessage:
		return "error_message"
	}
	return "unknown"
}

// Direct reports whether events of this kind bypass the orchestrator and go
// straight to playback.
func (k EventKind) Direct() bool {
	switch k {
	case KindGreeting, KindAnnouncement, KindStatusUpdate, KindErrorMessage:
		return true
	}
	return false
}

// SpeechEvent is the unit of communication from the recognition worker to
// the turn pipeline.
type SpeechEvent struct {
	Kind      EventKind
	Text      string
	Language  string
	SpeakerID string

	// Timestamp is when the event was produced, monotonic per session.
	Timestamp time.Time
}

// NewSpeechEvent builds an event stamped with the current time.
func NewSpeechEvent(kind EventKind, text string) SpeechEvent {
	return SpeechEvent{Kind: kind, Text: text, Timestamp: time.Now()}
}
