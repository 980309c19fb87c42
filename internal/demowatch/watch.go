// Package demowatch implements spec.md's §4.C component: a recursive
// directory watcher for `.dem` files with byte-range framing and
// late-bytes detection.
package demowatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"macagent/internal/eventloop"
	"macagent/internal/logging"
)

const (
	silenceRescan  = 3 * time.Second
	lateByteOffset = 0x420
	lateByteLen    = 16
)

// ChunkMsg carries an appended byte range for the currently-tracked demo.
type ChunkMsg struct {
	Path  string
	ID    uint64
	Bytes []byte
}

// Kind implements eventloop.Message.
func (ChunkMsg) Kind() string { return "demowatch.chunk" }

// LateBytesMsg is emitted once, the first time the header-completion bytes
// at file offset 0x420 become non-zero.
type LateBytesMsg struct {
	Path    string
	ID      uint64
	Payload []byte
}

// Kind implements eventloop.Message.
func (LateBytesMsg) Kind() string { return "demowatch.late_bytes" }

// Watcher tracks one "current" demo file at a time, re-framing it on
// rotation and detecting late-bytes completion.
type Watcher struct {
	log *logging.Logger
	dir string

	mu            sync.Mutex
	fsw           *fsnotify.Watcher
	current       string
	id            uint64
	offset        int64
	lateByteSeen  bool
	lastEventTime time.Time

	events chan eventloop.Message
}

// New constructs a watcher over dir, recursively.
func New(dir string, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.L()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{log: log, dir: dir, fsw: fsw, events: make(chan eventloop.Message, 256)}
	if err := w.addRecursive(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Name implements eventloop.Source.
func (w *Watcher) Name() string { return "demo-watcher" }

// Run drains fsnotify events and the 3s silence-rescan fallback, pushing
// results onto the internal channel that Poll drains non-blockingly.
// Composition code (component M) should start this in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(silenceRescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("demo watcher error", logging.Error(err))
		case <-ticker.C:
			w.pollFallback()
		}
	}
}

// Poll implements eventloop.Source, draining whatever Run has queued.
func (w *Watcher) Poll() []eventloop.Message {
	var out []eventloop.Message
	for {
		select {
		case msg := <-w.events:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(strings.ToLower(ev.Name), ".dem") {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastEventTime = time.Now()

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.rotateLocked(ev.Name)
		w.readTailLocked()
	case ev.Op&(fsnotify.Write) != 0:
		if ev.Name != w.current {
			w.rotateLocked(ev.Name)
		}
		w.readTailLocked()
	}
}

func (w *Watcher) pollFallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == "" || time.Since(w.lastEventTime) < silenceRescan {
		return
	}
	w.readTailLocked()
}

func (w *Watcher) rotateLocked(path string) {
	w.current = path
	w.id++
	w.offset = 0
	w.lateByteSeen = false
}

func (w *Watcher) readTailLocked() {
	info, err := os.Stat(w.current)
	if err != nil {
		return
	}
	if info.Size() < w.offset {
		// Internal rotation detection: file shrank without a Create event
		// (§4.C). The watcher's own id bump above is authoritative; this
		// is a safety net for filesystems that coalesce/drop events.
		w.id++
		w.offset = 0
	}
	f, err := os.Open(w.current)
	if err != nil {
		return
	}
	defer f.Close()

	w.checkLateBytesLocked(f)

	if info.Size() == w.offset {
		return
	}

	buf := make([]byte, info.Size()-w.offset)
	n, err := f.ReadAt(buf, w.offset)
	if n == 0 {
		return
	}
	w.offset += int64(n)
	w.emit(ChunkMsg{Path: w.current, ID: w.id, Bytes: append([]byte(nil), buf[:n]...)})
}

func (w *Watcher) checkLateBytesLocked(f *os.File) {
	if w.lateByteSeen {
		return
	}
	buf := make([]byte, lateByteLen)
	n, err := f.ReadAt(buf, lateByteOffset)
	if err != nil || n < 8 {
		return
	}
	for _, b := range buf[:8] {
		if b != 0 {
			w.lateByteSeen = true
			w.emit(LateBytesMsg{Path: w.current, ID: w.id, Payload: append([]byte(nil), buf[:n]...)})
			return
		}
	}
}

func (w *Watcher) emit(msg eventloop.Message) {
	select {
	case w.events <- msg:
	default:
		w.log.Warn("demo watcher event channel full, dropping message", logging.String("kind", msg.Kind()))
	}
}

// Close releases the underlying OS watch handles.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
