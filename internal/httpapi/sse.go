package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseSubBuffer is the bounded per-client channel capacity (§4.L).
const sseSubBuffer = 16

// sseHub fans serialized events out to every subscriber. Broadcast holds
// the lock for the whole fan-out; each send is non-blocking, so the lock is
// never held waiting on a slow client.
type sseHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan sseEvent
}

type sseEvent struct {
	name string
	data []byte
}

func newSSEHub() *sseHub {
	return &sseHub{subs: make(map[int]chan sseEvent)}
}

// Subscribe registers a new sink and returns it along with an unsubscribe
// function the HTTP handler calls once the client disconnects.
func (h *sseHub) Subscribe() (<-chan sseEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan sseEvent, sseSubBuffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Broadcast serializes payload to JSON and fans it out under name to every
// subscriber. A subscriber whose channel is full is assumed stalled or
// gone and is pruned on the spot rather than blocking the broadcaster.
func (h *sseHub) Broadcast(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	evt := sseEvent{name: name, data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			delete(h.subs, id)
			close(ch)
		}
	}
}

// ServeHTTP implements the GET /mac/game/events/v1 SSE endpoint.
func (h *sseHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.name, evt.data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
