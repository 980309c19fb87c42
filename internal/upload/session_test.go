package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type fakeMasterbase struct {
	mu            sync.Mutex
	receivedBytes [][]byte
	lateBytes     []byte
	closed        bool
}

func newFakeMasterbaseServer(t *testing.T, fake *fakeMasterbase) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/session_id", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "abc123"})
	})
	mux.HandleFunc("/demos", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				fake.mu.Lock()
				fake.receivedBytes = append(fake.receivedBytes, append([]byte(nil), data...))
				fake.mu.Unlock()
			}
		}
	})
	mux.HandleFunc("/late_bytes", func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 16)
		n, _ := r.Body.Read(body)
		fake.mu.Lock()
		fake.lateBytes = append([]byte(nil), body[:n]...)
		fake.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/close_session", func(w http.ResponseWriter, r *http.Request) {
		fake.mu.Lock()
		fake.closed = true
		fake.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestSessionOpenSendCloseHappyPath(t *testing.T) {
	fake := &fakeMasterbase{}
	srv := newFakeMasterbaseServer(t, fake)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	cfg := Config{Host: u.Host, APIKey: "key", FakeIP: "1.2.3.4", Map: "cp_badlands", UseHTTP: true}

	session, err := Open(context.Background(), cfg, srv.Client(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if session.ID() != "abc123" {
		t.Fatalf("unexpected session id %q", session.ID())
	}

	select {
	case <-session.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket dial to complete")
	}
	if session.Err() != nil {
		t.Fatalf("unexpected connect error: %v", session.Err())
	}

	if err := session.SendChunk([]byte("hello-demo-bytes")); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if err := session.LateBytes(context.Background(), make([]byte, 16)); err != nil {
		t.Fatalf("LateBytes: %v", err)
	}
	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		gotChunk := len(fake.receivedBytes) == 1
		gotClose := fake.closed
		fake.mu.Unlock()
		if gotChunk && gotClose {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.receivedBytes) != 1 || string(fake.receivedBytes[0]) != "hello-demo-bytes" {
		t.Fatalf("unexpected chunks received: %v", fake.receivedBytes)
	}
	if !fake.closed {
		t.Fatalf("expected close_session to have been called")
	}
}

func TestSessionOpenErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	cfg := Config{Host: u.Host, APIKey: "key", UseHTTP: true}
	_, err := Open(context.Background(), cfg, srv.Client(), nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected a 403 error, got %v", err)
	}
}
