// Package upload implements spec.md's §4.G component: the three-phase
// masterbase demo-upload protocol (HTTP session open, WebSocket chunk
// streaming, late-bytes + force-close on drop).
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"macagent/internal/logging"
)

// Config names the masterbase endpoint and credentials for one session.
type Config struct {
	Host    string
	APIKey  string
	FakeIP  string
	Map     string
	UseHTTP bool // true selects http/ws instead of https/wss (§4.G).
}

func (c Config) httpScheme() string {
	if c.UseHTTP {
		return "http"
	}
	return "https"
}

func (c Config) wsScheme() string {
	if c.UseHTTP {
		return "ws"
	}
	return "wss"
}

// Session is one open masterbase upload, holding the session id and the
// live WebSocket connection chunks stream over. Sends are serialized
// through mu so concurrent chunk-send Futures never interleave frames
// (§4.G: "chunks for one session are serialized through the session's
// mutex; no reordering").
type Session struct {
	id     string
	cfg    Config
	client *http.Client
	log    *logging.Logger

	ready chan struct{}
	err   error

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Open performs phase 1 (GET /session_id) synchronously and returns a
// Session whose WebSocket connection (phase 2) finishes asynchronously;
// callers must wait on Ready() before sending chunks. This split exists so
// the demo manager can hand back a Session handle the moment the HTTP call
// resolves, while SendChunk Futures block on Ready() themselves instead of
// busy-waiting on a polled Uninit state (§4.G/§9).
func Open(ctx context.Context, cfg Config, client *http.Client, log *logging.Logger) (*Session, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logging.L()
	}

	id, err := requestSessionID(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	s := &Session{id: id, cfg: cfg, client: client, log: log, ready: make(chan struct{})}
	go s.dial(ctx)
	return s, nil
}

func requestSessionID(ctx context.Context, cfg Config, client *http.Client) (string, error) {
	u := fmt.Sprintf("%s://%s/session_id?api_key=%s&fake_ip=%s&map=%s",
		cfg.httpScheme(), cfg.Host, cfg.APIKey, cfg.FakeIP, cfg.Map)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("upload: build session_id request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: session_id request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload: session_id returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("upload: decode session_id response: %w", err)
	}
	return payload.SessionID, nil
}

func (s *Session) dial(ctx context.Context) {
	u := fmt.Sprintf("%s://%s/demos?api_key=%s&session_id=%s", s.cfg.wsScheme(), s.cfg.Host, s.cfg.APIKey, s.id)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		s.err = fmt.Errorf("upload: websocket dial: %w", err)
		close(s.ready)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)
}

// Ready returns a channel closed once the WebSocket connection phase has
// resolved (success or failure). Callers select on it instead of polling.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Err reports the connection-phase error, if any. Only meaningful after
// Ready() is closed.
func (s *Session) Err() error { return s.err }

// ID returns the opaque masterbase session identifier.
func (s *Session) ID() string { return s.id }

// SendChunk writes one binary WebSocket frame, serialized against any
// concurrent sender. Returns an error (and marks the session errored) if
// the frame could not be written, per §4.G "errors mid-stream drop the
// session".
func (s *Session) SendChunk(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("upload: session %s already closed", s.id)
	}
	if s.conn == nil {
		return fmt.Errorf("upload: session %s has no live connection", s.id)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.closed = true
		return fmt.Errorf("upload: send chunk: %w", err)
	}
	return nil
}

// LateBytes posts the 16-byte header-completion payload (§4.G phase 3).
func (s *Session) LateBytes(ctx context.Context, payload []byte) error {
	u := fmt.Sprintf("%s://%s/late_bytes?api_key=%s", s.cfg.httpScheme(), s.cfg.Host, s.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upload: build late_bytes request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: late_bytes request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload: late_bytes returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close performs the best-effort force-close call (§4.G phase 3: "Dropping
// the session schedules a force-close HTTP call"). The demo manager calls
// this from a one-shot Future when it finalizes or abandons a session;
// Go has no destructor to trigger it implicitly on drop.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.closed = true
	s.mu.Unlock()

	u := fmt.Sprintf("%s://%s/close_session?api_key=%s", s.cfg.httpScheme(), s.cfg.Host, s.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("upload: build close_session request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: close_session request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: close_session returned status %d", resp.StatusCode)
	}
	return nil
}

// closeTimeout bounds the best-effort force-close call so a hung masterbase
// endpoint never blocks a spawned cleanup Future indefinitely.
const closeTimeout = 10 * time.Second

// CloseWithTimeout wraps Close with closeTimeout, for use from cleanup
// Futures that have no caller-supplied context to bound on.
func (s *Session) CloseWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.Close(ctx)
}
