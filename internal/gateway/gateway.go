// Package gateway accepts telephony media WebSocket connections and binds
// each one to a session controller for the lifetime of the call.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/internal/orchestrate"
	"github.com/voxline/voxgate/internal/session"
	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/telephony/acs"
)

// Correlation headers sent by the telephony service on the WebSocket
// handshake. The call-connection id appears under two names depending on
// service version.
const (
	headerCallConnectionID    = "x-ms-call-connection-id"
	headerCallCorrelationID   = "x-ms-call-correlation-id"
	headerCallConnectionIDAlt = "x-call-connection-id"
	headerSessionID           = "x-session-id"
)

// readLimit caps a single inbound frame. Media frames are well under 64 KiB;
// anything larger is a misbehaving peer.
const readLimit = 1 << 20

// Config carries the shared collaborators the gateway hands to every new
// session.
type Config struct {
	Registry     *session.Registry
	ASR          asr.Provider
	ASRConfig    asr.Config
	Orchestrator orchestrate.Orchestrator
	Playback     *orchestrate.Playback

	// Store persists transcripts; may be nil.
	Store memory.Store

	// Greeting is spoken once per call when the media stream starts.
	Greeting string

	// Vocabulary lists domain terms final transcripts are corrected
	// against. May be empty.
	Vocabulary []string

	// VoiceCall reports whether orchestrator replies are synthesized.
	VoiceCall bool

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Handler upgrades media WebSocket requests and runs their read loops. One
// goroutine per connection; the handler returns when the peer disconnects or
// the server shuts down.
type Handler struct {
	cfg Config
	log *slog.Logger
}

// New validates cfg and creates a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil || cfg.ASR == nil || cfg.Orchestrator == nil || cfg.Playback == nil {
		return nil, fmt.Errorf("gateway: incomplete config")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg, log: cfg.Logger}, nil
}

// Register adds the media WebSocket route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /media", h.HandleMedia)
}

// HandleMedia upgrades the request and runs the session until the peer
// disconnects.
func (h *Handler) HandleMedia(w http.ResponseWriter, r *http.Request) {
	callID, sessionID, correlationID := correlationIDs(r)
	log := h.log.With("call_id", callID, "session_id", sessionID)
	if correlationID != "" {
		log = log.With("correlation_id", correlationID)
	}

	ctx, span := observe.StartSpan(r.Context(), "media session",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("gateway: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	sink := acs.NewSink(conn)

	ctrl, err := session.New(ctx, session.Config{
		SessionID:    sessionID,
		CallID:       callID,
		Sink:         sink,
		ASR:          h.cfg.ASR,
		ASRConfig:    h.cfg.ASRConfig,
		Orchestrator: h.cfg.Orchestrator,
		Playback:     h.cfg.Playback,
		Store:        h.cfg.Store,
		Greeting:     h.cfg.Greeting,
		Vocabulary:   h.cfg.Vocabulary,
		VoiceCall:    h.cfg.VoiceCall,
		Metrics:      h.cfg.Metrics,
		Logger:       log,
	})
	if err != nil {
		log.Error("gateway: session setup failed", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	if !h.cfg.Registry.Register(callID, ctrl) {
		log.Error("gateway: duplicate call connection id")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), session.StopTimeout)
		_ = ctrl.Stop(stopCtx)
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, "duplicate call connection id")
		return
	}

	ctrl.Start(ctx)
	log.Info("gateway: media session accepted")

	h.readLoop(ctx, conn, ctrl, log)

	// The peer is gone or the server is shutting down. Flag the sink
	// first so no goroutine races a send against the close frame.
	sink.MarkPeerGone()
	h.cfg.Registry.DeregisterAsync(context.WithoutCancel(ctx), callID)
	_ = sink.Close("session ended")
	log.Info("gateway: media session closed")
}

// readLoop pumps inbound frames into the controller until the connection
// errors or ctx is done.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, ctrl *session.Controller, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				log.Info("gateway: peer closed the stream", "status", status)
			case errors.Is(err, context.Canceled):
				log.Info("gateway: session context cancelled")
			default:
				log.Warn("gateway: read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			// Media streaming is JSON-over-text; binary frames are
			// not part of the protocol.
			continue
		}
		ctrl.HandleMedia(ctx, data)
	}
}

// correlationIDs extracts the call and session identifiers from the
// handshake headers, generating fallbacks when absent.
func correlationIDs(r *http.Request) (callID, sessionID, correlationID string) {
	callID = r.Header.Get(headerCallConnectionID)
	if callID == "" {
		callID = r.Header.Get(headerCallConnectionIDAlt)
	}
	if callID == "" {
		callID = "unknown-" + randomID()
	}

	sessionID = r.Header.Get(headerSessionID)
	if sessionID == "" {
		sessionID = randomID()
	}

	return callID, sessionID, r.Header.Get(headerCallCorrelationID)
}

// randomID returns a 16-hex-digit random identifier, falling back to a
// timestamp when the random source fails.
func randomID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
