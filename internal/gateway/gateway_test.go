package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxline/voxgate/internal/orchestrate"
	orchmock "github.com/voxline/voxgate/internal/orchestrate/mock"
	"github.com/voxline/voxgate/internal/session"
	asrmock "github.com/voxline/voxgate/pkg/asr/mock"
	"github.com/voxline/voxgate/pkg/tts"
	ttsmock "github.com/voxline/voxgate/pkg/tts/mock"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New() = nil error for an empty config")
	}

	cfg := Config{
		Registry:     session.NewRegistry(nil, nil),
		ASR:          &asrmock.Provider{},
		Orchestrator: &orchmock.Orchestrator{},
		Playback:     orchestrate.NewPlayback(&ttsmock.Provider{}, tts.Voice{ID: "alloy"}),
	}
	if _, err := New(cfg); err != nil {
		t.Errorf("New() = %v for a complete config", err)
	}
}

func TestCorrelationIDs_PrimaryHeaders(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/media", nil)
	r.Header.Set("x-ms-call-connection-id", "call-123")
	r.Header.Set("x-ms-call-correlation-id", "corr-456")
	r.Header.Set("x-session-id", "sess-789")

	callID, sessionID, correlationID := correlationIDs(r)
	if callID != "call-123" {
		t.Errorf("callID = %q", callID)
	}
	if sessionID != "sess-789" {
		t.Errorf("sessionID = %q", sessionID)
	}
	if correlationID != "corr-456" {
		t.Errorf("correlationID = %q", correlationID)
	}
}

func TestCorrelationIDs_AlternateConnectionHeader(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/media", nil)
	r.Header.Set("x-call-connection-id", "call-alt")

	callID, _, _ := correlationIDs(r)
	if callID != "call-alt" {
		t.Errorf("callID = %q, want the alternate header value", callID)
	}
}

func TestCorrelationIDs_PrimaryHeaderWins(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/media", nil)
	r.Header.Set("x-ms-call-connection-id", "call-primary")
	r.Header.Set("x-call-connection-id", "call-alt")

	callID, _, _ := correlationIDs(r)
	if callID != "call-primary" {
		t.Errorf("callID = %q, want the primary header value", callID)
	}
}

func TestCorrelationIDs_GeneratedFallbacks(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/media", nil)

	callID, sessionID, correlationID := correlationIDs(r)
	if !strings.HasPrefix(callID, "unknown-") {
		t.Errorf("callID = %q, want an unknown- fallback", callID)
	}
	if sessionID == "" {
		t.Error("sessionID is empty")
	}
	if correlationID != "" {
		t.Errorf("correlationID = %q, want empty", correlationID)
	}

	// Two requests must never share generated identifiers.
	callID2, sessionID2, _ := correlationIDs(httptest.NewRequest("GET", "/media", nil))
	if callID == callID2 || sessionID == sessionID2 {
		t.Error("generated identifiers collided")
	}
}

func TestRandomID(t *testing.T) {
	t.Parallel()

	id := randomID()
	if len(id) != 16 {
		t.Errorf("len = %d, want 16 hex digits", len(id))
	}
	if id == randomID() {
		t.Error("consecutive ids collided")
	}
}
