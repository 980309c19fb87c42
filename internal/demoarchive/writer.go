package demoarchive

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var writerDemoCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes the on-disk layout of a streamed demo spool bundle.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	BytesPath  string `json:"bytes_path"`
}

type pendingChunk struct {
	offset     int64
	capturedAt time.Time
	payload    []byte
}

// Writer streams demo byte chunks to disk as they arrive, compressing the
// live byte stream with zstd and a side JSON-lines event log (vote-started,
// vote-cast) with snappy, mirroring the dual-stream layout used
// for high-frequency append-only telemetry.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	byteFile    *os.File
	byteStream  *zstd.Encoder
	pending     []pendingChunk
}

// NewWriter prepares the spool directory and opens compressed sinks for one demo.
func NewWriter(root, demoID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("demo spool root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerDemoCleaner.ReplaceAllString(demoID, "")
	if cleaned == "" {
		cleaned = "demo"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	bytesPath := filepath.Join(path, "bytes.bin.zst")

	eventFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	byteFile, err := os.Create(bytesPath)
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	byteStream, err := zstd.NewWriter(byteFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		byteFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:    1,
		CreatedAt:  created.Format(time.RFC3339Nano),
		EventsPath: "events.jsonl.sz",
		BytesPath:  "bytes.bin.zst",
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		byteFile:    byteFile,
		byteStream:  byteStream,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the spool bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes a single JSON event line (vote-started or vote-cast)
// to the compressed event log.
func (w *Writer) AppendEvent(line []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := w.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendChunk buffers a raw demo byte range for length-prefixed persistence.
func (w *Writer) AppendChunk(offset int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	clone := append([]byte(nil), payload...)
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, pendingChunk{offset: offset, capturedAt: captured, payload: clone})
	return w.flushLocked()
}

// Flush forces pending chunks to be written regardless of buffering.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if err := w.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.byteStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.byteFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	for _, chunk := range w.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], uint64(chunk.offset))
		binary.LittleEndian.PutUint64(header[8:16], uint64(chunk.capturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(chunk.payload)))
		if _, err := w.byteStream.Write(header); err != nil {
			return err
		}
		if _, err := w.byteStream.Write(chunk.payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
