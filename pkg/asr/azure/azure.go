// Package azure provides an Azure Speech Service-backed ASR provider using
// the speech-to-text streaming WebSocket API. It implements the asr.Provider
// interface.
//
// The streaming protocol is message-based: the client sends a JSON
// speech.config message, then binary audio messages, and receives text
// messages whose Path header selects the payload type — speech.hypothesis
// for interim results, speech.phrase for committed results, turn.end for
// end-of-utterance bookkeeping.
package azure

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxline/voxgate/pkg/asr"
)

const (
	// endpointFormat is the regional conversation-transcription endpoint.
	endpointFormat = "wss://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"

	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// audioBuf is the depth of the sink channel between WriteAudio callers
	// and the socket write loop. At 20 ms telephony chunks this buffers
	// about five seconds of audio.
	audioBuf = 256
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 recognition language.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint overrides the service endpoint. Used in tests to point the
// provider at a local fake.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements asr.Provider backed by the Azure Speech streaming API.
type Provider struct {
	key      string
	endpoint string
	language string
}

// New creates an Azure Speech provider for the given subscription key and
// region. key and region must be non-empty unless WithEndpoint is used.
func New(key, region string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	p := &Provider{
		key:      key,
		language: defaultLanguage,
	}
	if region != "" {
		p.endpoint = fmt.Sprintf(endpointFormat, region)
	}
	for _, o := range opts {
		o(p)
	}
	if p.endpoint == "" {
		return nil, errors.New("azure: region or endpoint must be provided")
	}
	return p, nil
}

// NewSession implements asr.Provider. The returned session does not dial the
// service until Start is called; PrepareSink may be used beforehand so early
// audio is buffered rather than lost.
func (p *Provider) NewSession(_ context.Context, cfg asr.Config) (asr.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	return &session{
		key:        p.key,
		endpoint:   p.endpoint,
		language:   lang,
		candidates: cfg.CandidateLanguages,
		sampleRate: sr,
		done:       make(chan struct{}),
	}, nil
}

// ─── session ──────────────────────────────────────────────────────────────────

// phraseResult is the JSON body of a speech.phrase message.
type phraseResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	PrimaryLanguage   struct {
		Language string `json:"Language"`
	} `json:"PrimaryLanguage"`
	SpeakerID string `json:"SpeakerId"`
}

// hypothesisResult is the JSON body of a speech.hypothesis message.
type hypothesisResult struct {
	Text            string `json:"Text"`
	PrimaryLanguage struct {
		Language string `json:"Language"`
	} `json:"PrimaryLanguage"`
}

// session is a live Azure streaming recognition session. It implements
// asr.SessionHandle.
type session struct {
	key        string
	endpoint   string
	language   string
	candidates []string
	sampleRate int

	mu        sync.Mutex
	audio     chan []byte
	conn      *websocket.Conn
	started   bool
	requestID string

	onPartial func(asr.Result)
	onFinal   func(asr.Result)
	onError   func(error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PrepareSink implements asr.SessionHandle. It creates the buffered audio
// channel if absent so WriteAudio can accept chunks before Start.
func (s *session) PrepareSink() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		s.audio = make(chan []byte, audioBuf)
	}
	return nil
}

// Start implements asr.SessionHandle. It dials the service, sends the
// speech.config message, and spawns the read and write loops. Calling Start
// on a running session is a no-op.
func (s *session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.audio == nil {
		s.audio = make(chan []byte, audioBuf)
	}

	wsURL, err := s.buildURL()
	if err != nil {
		return fmt.Errorf("azure: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", s.key)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("azure: dial: %w", err)
	}

	s.conn = conn
	s.requestID = newRequestID()
	s.started = true

	if err := s.sendSpeechConfig(ctx); err != nil {
		s.conn = nil
		s.started = false
		conn.Close(websocket.StatusInternalError, "speech.config failed")
		return fmt.Errorf("azure: send speech.config: %w", err)
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return nil
}

// WriteAudio implements asr.SessionHandle. It queues pcm for the write loop,
// blocking until the sink accepts the chunk, the session stops, or ctx is
// done.
func (s *session) WriteAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	audio := s.audio
	s.mu.Unlock()
	if audio == nil {
		return errors.New("azure: sink not prepared")
	}

	select {
	case <-s.done:
		return errors.New("azure: session is stopped")
	default:
	}
	select {
	case audio <- pcm:
		return nil
	case <-s.done:
		return errors.New("azure: session is stopped")
	case <-ctx.Done():
		return fmt.Errorf("azure: write audio: %w", ctx.Err())
	}
}

// OnPartial implements asr.SessionHandle.
func (s *session) OnPartial(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = cb
}

// OnFinal implements asr.SessionHandle.
func (s *session) OnFinal(cb func(asr.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinal = cb
}

// OnError implements asr.SessionHandle.
func (s *session) OnError(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// Stop implements asr.SessionHandle. It signals both loops, waits for them
// bounded by ctx, and closes the connection.
func (s *session) Stop(ctx context.Context) error {
	var joinErr error
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		joined := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(joined)
		}()

		// Closing the connection unblocks the read loop.
		conn.Close(websocket.StatusNormalClosure, "session stopped")

		select {
		case <-joined:
		case <-ctx.Done():
			joinErr = fmt.Errorf("azure: join recognition loops: %w", ctx.Err())
		}
	})
	return joinErr
}

// buildURL constructs the streaming endpoint URL for this session.
func (s *session) buildURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("language", s.language)
	q.Set("format", "simple")
	if len(s.candidates) > 0 {
		q.Set("lidEnabled", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sendSpeechConfig sends the initial speech.config text message describing
// the audio source. Must be called with s.mu held and s.conn non-nil.
func (s *session) sendSpeechConfig(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"system": map[string]string{"name": "voxgate"},
			"audio": map[string]any{
				"source": map[string]any{
					"samplerate":    s.sampleRate,
					"bitspersample": 16,
					"channelcount":  1,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	msg := textMessage("speech.config", s.requestID, body)
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// writeLoop drains the sink channel and sends binary audio messages until
// the session stops.
func (s *session) writeLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	conn := s.conn
	audio := s.audio
	reqID := s.requestID
	s.mu.Unlock()

	for {
		select {
		case chunk := <-audio:
			if err := conn.Write(context.Background(), websocket.MessageBinary, audioMessage(reqID, chunk)); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is already queued, then signal end of audio
			// with an empty-body message so the service finalizes pending
			// hypotheses.
			for {
				select {
				case chunk := <-audio:
					if err := conn.Write(context.Background(), websocket.MessageBinary, audioMessage(reqID, chunk)); err != nil {
						return
					}
				default:
					_ = conn.Write(context.Background(), websocket.MessageBinary, audioMessage(reqID, nil))
					return
				}
			}
		}
	}
}

// readLoop receives service messages and dispatches them to the registered
// callbacks. It exits when the connection closes or the session stops.
func (s *session) readLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		typ, msg, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				// Normal stop.
			default:
				s.fireError(fmt.Errorf("azure: read: %w", err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.dispatch(msg)
	}
}

// dispatch parses one service text message and fires the matching callback.
func (s *session) dispatch(msg []byte) {
	path, body, ok := splitMessage(msg)
	if !ok {
		return
	}

	switch path {
	case "speech.hypothesis", "speech.fragment":
		var h hypothesisResult
		if err := json.Unmarshal(body, &h); err != nil || h.Text == "" {
			return
		}
		s.firePartial(asr.Result{Text: h.Text, Language: h.PrimaryLanguage.Language})

	case "speech.phrase":
		var ph phraseResult
		if err := json.Unmarshal(body, &ph); err != nil {
			return
		}
		switch ph.RecognitionStatus {
		case "Success":
			if ph.DisplayText == "" {
				return
			}
			s.fireFinal(asr.Result{
				Text:      ph.DisplayText,
				Language:  ph.PrimaryLanguage.Language,
				SpeakerID: ph.SpeakerID,
			})
		case "Error":
			s.fireError(errors.New("azure: service reported recognition error"))
		}

	case "turn.end":
		// End-of-turn bookkeeping only; nothing to surface.
	}
}

func (s *session) firePartial(r asr.Result) {
	s.mu.Lock()
	cb := s.onPartial
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func (s *session) fireFinal(r asr.Result) {
	s.mu.Lock()
	cb := s.onFinal
	s.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func (s *session) fireError(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// ─── wire helpers ─────────────────────────────────────────────────────────────

// textMessage builds a protocol text message: CRLF-separated headers, a blank
// line, then the JSON body.
func textMessage(path, requestID string, body []byte) []byte {
	var sb strings.Builder
	sb.WriteString("Path: " + path + "\r\n")
	sb.WriteString("X-RequestId: " + requestID + "\r\n")
	sb.WriteString("X-Timestamp: " + time.Now().UTC().Format(time.RFC3339Nano) + "\r\n")
	sb.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.Write(body)
	return []byte(sb.String())
}

// audioMessage builds a binary audio message: a big-endian uint16 header
// length, the headers, then the raw PCM payload. A nil payload signals end
// of audio.
func audioMessage(requestID string, pcm []byte) []byte {
	headers := "Path: audio\r\n" +
		"X-RequestId: " + requestID + "\r\n" +
		"X-Timestamp: " + time.Now().UTC().Format(time.RFC3339Nano) + "\r\n" +
		"Content-Type: audio/x-wav\r\n"

	msg := make([]byte, 2+len(headers)+len(pcm))
	binary.BigEndian.PutUint16(msg[:2], uint16(len(headers)))
	copy(msg[2:], headers)
	copy(msg[2+len(headers):], pcm)
	return msg
}

// splitMessage separates a text message into its Path header value and body.
func splitMessage(msg []byte) (path string, body []byte, ok bool) {
	raw := string(msg)
	sep := strings.Index(raw, "\r\n\r\n")
	if sep < 0 {
		return "", nil, false
	}
	for _, line := range strings.Split(raw[:sep], "\r\n") {
		if v, found := strings.CutPrefix(line, "Path: "); found {
			path = strings.TrimSpace(v)
		}
	}
	if path == "" {
		return "", nil, false
	}
	return path, []byte(raw[sep+4:]), true
}

// newRequestID generates the 32-hex-digit request id the protocol expects.
func newRequestID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(buf[:])
}
