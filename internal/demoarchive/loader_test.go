package demoarchive

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoaderReplayOrdering(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	recorder, err := NewRecorder(dir, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	recorder.RecordChunk(900, []byte("late"))
	recorder.RecordChunk(300, []byte("mid"))
	recorder.RecordChunk(0, []byte("start"))

	path, err := recorder.Roll("beta")
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	if filepath.Ext(path) != ".gz" {
		t.Fatalf("expected gzip artefact, got %s", path)
	}

	loader, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var offsets []int64
	err = loader.Replay(func(chunk SpooledChunk) error {
		offsets = append(offsets, chunk.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	expected := []int64{0, 300, 900}
	if !reflect.DeepEqual(offsets, expected) {
		t.Fatalf("unexpected replay order: %v", offsets)
	}

	chunks := loader.Chunks()
	if len(chunks) != len(offsets) {
		t.Fatalf("expected %d chunks copy, got %d", len(offsets), len(chunks))
	}
	if &chunks[0] == &loader.chunks[0] {
		t.Fatalf("Chunks must return a defensive copy")
	}
}

func TestLoaderRejectsEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
