// Package tail implements spec.md's §4.B component: a polling tailer for
// the game's append-only console log, with rotation recovery.
package tail

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"macagent/internal/eventloop"
	"macagent/internal/logging"
)

const pollInterval = 10 * time.Millisecond

// LineMsg carries one non-empty trimmed line read from the tailed file.
type LineMsg struct {
	Text string
}

// Kind implements eventloop.Message.
func (LineMsg) Kind() string { return "tail.line" }

// Tailer follows an append-only file, emitting LineMsg for every new,
// non-empty line, and transparently recovering from truncation/rotation.
type Tailer struct {
	log *logging.Logger

	mu      sync.Mutex
	path    string
	pending string

	file       *os.File
	lastLength int64
	leftover   []byte
}

// New constructs a tailer for path. The file is opened (seeking to its
// current end, per §4.B "ignore backlog") on the first Poll call so that
// construction never fails on a not-yet-existing log file.
func New(path string, log *logging.Logger) *Tailer {
	if log == nil {
		log = logging.L()
	}
	return &Tailer{log: log, path: path}
}

// Name implements eventloop.Source.
func (t *Tailer) Name() string { return "console-tailer" }

// SetPath requests the tailer switch to a new file on the next Poll,
// per §4.B's runtime "change watched path" request.
func (t *Tailer) SetPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if path == t.path {
		return
	}
	t.pending = path
}

// Poll implements eventloop.Source. It is cheap to call faster than
// pollInterval; callers (the demowatch-style wrapper or a ticking Source)
// should rate-limit to roughly pollInterval themselves, but Poll itself
// tolerates being called at any cadence.
func (t *Tailer) Poll() []eventloop.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != "" {
		t.closeLocked()
		t.path = t.pending
		t.pending = ""
	}

	if t.file == nil {
		if err := t.openLocked(); err != nil {
			return nil
		}
	}

	info, err := t.file.Stat()
	if err != nil {
		t.log.Warn("tail stat failed, will retry", logging.String("path", t.path), logging.Error(err))
		t.closeLocked()
		return nil
	}

	size := info.Size()
	switch {
	case size < t.lastLength:
		// Rotation: truncated or replaced underneath us.
		t.closeLocked()
		if err := t.openFreshLocked(); err != nil {
			t.log.Warn("tail reopen after rotation failed", logging.String("path", t.path), logging.Error(err))
		}
		return nil
	case size == t.lastLength:
		return nil
	}

	buf := make([]byte, size-t.lastLength)
	n, err := t.file.ReadAt(buf, t.lastLength)
	if n == 0 && size > t.lastLength {
		// Silent rotation: size grew but we can't read from our old handle.
		t.closeLocked()
		if rerr := t.openFreshLocked(); rerr != nil {
			t.log.Warn("tail reopen after silent rotation failed", logging.String("path", t.path), logging.Error(rerr))
		}
		return nil
	}
	if err != nil && n == 0 {
		t.log.Warn("tail read failed, will retry", logging.String("path", t.path), logging.Error(err))
		return nil
	}

	t.lastLength += int64(n)
	return t.splitLines(buf[:n])
}

func (t *Tailer) splitLines(chunk []byte) []eventloop.Message {
	t.leftover = append(t.leftover, chunk...)

	var out []eventloop.Message
	for {
		idx := bytes.IndexByte(t.leftover, '\n')
		if idx < 0 {
			break
		}
		line := t.leftover[:idx]
		t.leftover = t.leftover[idx+1:]
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			out = append(out, LineMsg{Text: trimmed})
		}
	}
	t.leftover = append([]byte(nil), t.leftover...)
	return out
}

func (t *Tailer) openLocked() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.lastLength = info.Size()
	t.leftover = nil
	return nil
}

func (t *Tailer) openFreshLocked() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.file = f
	t.lastLength = 0
	t.leftover = nil
	return nil
}

func (t *Tailer) closeLocked() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.lastLength = 0
}

// Run drives Poll on pollInterval until ctx is cancelled, delivering each
// batch of emitted lines to emit. Composition code (component M) that
// wires the tailer directly as an eventloop.Source does not need Run; it
// exists for callers that want the tailer driven off its own ticker.
func (t *Tailer) Run(ctx context.Context, emit func([]eventloop.Message)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if msgs := t.Poll(); len(msgs) > 0 {
				emit(msgs)
			}
		}
	}
}
