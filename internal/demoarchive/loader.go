package demoarchive

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// SpooledChunk represents a single rehydrated byte range ready for retry upload.
type SpooledChunk struct {
	Offset     int64
	CapturedAt time.Time
	Payload    []byte
}

// Loader rehydrates a gzip JSON demo spool artefact written by Recorder.Roll.
type Loader struct {
	chunks []SpooledChunk
}

// Load constructs a loader from the provided spool artefact path.
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("demo spool path must be provided")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Chunks []struct {
			Offset     int64           `json:"offset"`
			CapturedAt string          `json:"captured_at"`
			Payload    json.RawMessage `json:"payload_b64"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	chunks := make([]SpooledChunk, 0, len(envelope.Chunks))
	for _, chunk := range envelope.Chunks {
		captured, err := time.Parse(time.RFC3339Nano, chunk.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse chunk captured_at: %w", err)
		}
		var payload []byte
		if err := json.Unmarshal(chunk.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode chunk payload: %w", err)
		}
		chunks = append(chunks, SpooledChunk{Offset: chunk.Offset, CapturedAt: captured, Payload: payload})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Offset < chunks[j].Offset })

	return &Loader{chunks: chunks}, nil
}

// Replay iterates over the loaded chunks in ascending offset order, suitable
// for re-feeding into an upload session after a transient failure clears.
func (l *Loader) Replay(apply func(SpooledChunk) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, chunk := range l.chunks {
		if err := apply(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Chunks exposes a defensive copy of the rehydrated chunk list.
func (l *Loader) Chunks() []SpooledChunk {
	if l == nil {
		return nil
	}
	out := make([]SpooledChunk, len(l.chunks))
	copy(out, l.chunks)
	return out
}
