package demoarchive

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

func TestWriterAppendFlushesImmediately(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Demo 4821", clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	if manifest.EventsPath != "events.jsonl.sz" || manifest.BytesPath != "bytes.bin.zst" {
		t.Fatalf("unexpected manifest paths: %+v", manifest)
	}

	if err := writer.AppendEvent([]byte(`{"event":"vote-started"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}

	chunkPayload := []byte{0x01, 0x02, 0x03}

	if err := writer.AppendChunk(0, chunkPayload); err != nil {
		t.Fatalf("append chunk 1: %v", err)
	}

	now = now.Add(100 * time.Millisecond)
	if err := writer.AppendChunk(3, chunkPayload); err != nil {
		t.Fatalf("append chunk 2: %v", err)
	}

	now = now.Add(120 * time.Millisecond)
	if err := writer.AppendChunk(6, chunkPayload); err != nil {
		t.Fatalf("append chunk 3: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(writer.Directory(), "manifest.json"))
	if err == nil {
		var onDisk Manifest
		if jsonErr := json.Unmarshal(manifestBytes, &onDisk); jsonErr == nil {
			if onDisk.EventsPath != "events.jsonl.sz" || onDisk.BytesPath != "bytes.bin.zst" {
				t.Fatalf("unexpected on-disk manifest paths: %+v", onDisk)
			}
		}
	}

	eventFile, err := os.Open(filepath.Join(writer.Directory(), "events.jsonl.sz"))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer eventFile.Close()

	eventReader := snappy.NewReader(eventFile)
	eventData, err := io.ReadAll(eventReader)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	lines := bytesSplitLines(eventData)
	if len(lines) != 1 {
		t.Fatalf("expected 1 event line, got %d", len(lines))
	}
	var eventRecord struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(lines[0], &eventRecord); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if eventRecord.Event != "vote-started" {
		t.Fatalf("unexpected event payload: %+v", eventRecord)
	}

	chunkFile, err := os.Open(filepath.Join(writer.Directory(), "bytes.bin.zst"))
	if err != nil {
		t.Fatalf("open chunks: %v", err)
	}
	defer chunkFile.Close()

	chunkReader, err := zstd.NewReader(chunkFile)
	if err != nil {
		t.Fatalf("chunk reader: %v", err)
	}
	defer chunkReader.Close()

	chunkBytes, err := io.ReadAll(chunkReader)
	if err != nil {
		t.Fatalf("read chunks: %v", err)
	}

	chunks := decodeChunkBlobs(chunkBytes)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for idx, ch := range chunks {
		if ch.Offset != int64(idx*3) {
			t.Fatalf("unexpected chunk offset at %d: %d", idx, ch.Offset)
		}
		if len(ch.Payload) != len(chunkPayload) {
			t.Fatalf("unexpected chunk payload size: %d", len(ch.Payload))
		}
	}
}

func TestWriterManualFlush(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2024, 7, 10, 13, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	writer, _, err := NewWriter(tmp, "Manual", clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	payload := []byte{0xAA, 0xBB}

	if err := writer.AppendChunk(0, payload); err != nil {
		t.Fatalf("append chunk 1: %v", err)
	}
	now = now.Add(50 * time.Millisecond)
	if err := writer.AppendChunk(2, payload); err != nil {
		t.Fatalf("append chunk 2: %v", err)
	}

	if err := writer.Flush(); err != nil {
		t.Fatalf("manual flush: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	chunkFile, err := os.Open(filepath.Join(writer.Directory(), "bytes.bin.zst"))
	if err != nil {
		t.Fatalf("open chunks: %v", err)
	}
	defer chunkFile.Close()

	chunkReader, err := zstd.NewReader(chunkFile)
	if err != nil {
		t.Fatalf("chunk reader: %v", err)
	}
	defer chunkReader.Close()

	chunkBytes, err := io.ReadAll(chunkReader)
	if err != nil {
		t.Fatalf("read chunks: %v", err)
	}
	chunks := decodeChunkBlobs(chunkBytes)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
}

type decodedChunk struct {
	Offset     int64
	CapturedAt time.Time
	Payload    []byte
}

func decodeChunkBlobs(raw []byte) []decodedChunk {
	var chunks []decodedChunk
	offset := 0
	for offset+20 <= len(raw) {
		off := int64(binary.LittleEndian.Uint64(raw[offset : offset+8]))
		offset += 8
		captured := int64(binary.LittleEndian.Uint64(raw[offset : offset+8]))
		offset += 8
		size := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
		offset += 4
		if offset+size > len(raw) {
			break
		}
		payload := append([]byte(nil), raw[offset:offset+size]...)
		offset += size
		chunks = append(chunks, decodedChunk{
			Offset:     off,
			CapturedAt: time.Unix(0, captured).UTC(),
			Payload:    payload,
		})
	}
	return chunks
}

func bytesSplitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for idx, b := range data {
		if b == '\n' {
			line := append([]byte(nil), data[start:idx]...)
			lines = append(lines, line)
			start = idx + 1
		}
	}
	if start < len(data) {
		line := append([]byte(nil), data[start:]...)
		lines = append(lines, line)
	}
	return lines
}
