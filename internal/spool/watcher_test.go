// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ecosync/internal/job"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []spoolFile
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, kind job.Kind, payload json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, spoolFile{Kind: kind, Payload: payload})
	return fmt.Sprintf("job-%d", len(f.enqueued)), nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func TestEnqueueFile(t *testing.T) {
	q := &fakeQueue{}
	id, err := EnqueueFile(context.Background(), q, []byte(`{"kind":"submission","payload":{"title":"Planted trees"}}`))
	if err != nil {
		t.Fatalf("EnqueueFile failed: %v", err)
	}
	if id == "" {
		t.Error("Expected job id")
	}
	if q.count() != 1 || q.enqueued[0].Kind != job.KindSubmission {
		t.Errorf("Expected one submission enqueued, got %+v", q.enqueued)
	}
}

func TestEnqueueFile_Malformed(t *testing.T) {
	q := &fakeQueue{}
	if _, err := EnqueueFile(context.Background(), q, []byte(`not json`)); err == nil {
		t.Error("Expected error for malformed file")
	}
	if _, err := EnqueueFile(context.Background(), q, []byte(`{"payload":{}}`)); err == nil {
		t.Error("Expected error for missing kind")
	}
	if q.count() != 0 {
		t.Errorf("Expected nothing enqueued, got %d", q.count())
	}
}

func TestWatcher_IngestsPreExistingFiles(t *testing.T) {
	dir := t.TempDir()
	spoolDir := filepath.Join(dir, "spool")
	os.MkdirAll(spoolDir, 0755)

	path := filepath.Join(spoolDir, "pending.json")
	os.WriteFile(path, []byte(`{"kind":"submission","payload":{"title":"x"}}`), 0644)

	q := &fakeQueue{}
	w, err := NewWatcher(spoolDir, q)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool { return q.count() == 1 })

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected ingested file to be moved out of the spool dir")
	}
	if _, err := os.Stat(filepath.Join(spoolDir, "archived", "pending.json")); err != nil {
		t.Errorf("Expected file in archived/: %v", err)
	}
}

func TestWatcher_IngestsDroppedFile(t *testing.T) {
	spoolDir := t.TempDir()

	q := &fakeQueue{}
	w, err := NewWatcher(spoolDir, q)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	os.WriteFile(filepath.Join(spoolDir, "dropped.json"),
		[]byte(`{"kind":"approval","payload":{"submissionId":"s1","approved":true}}`), 0644)

	waitFor(t, func() bool { return q.count() == 1 })

	if q.enqueued[0].Kind != job.KindApproval {
		t.Errorf("Expected approval job, got %s", q.enqueued[0].Kind)
	}
}

func TestWatcher_MovesRejectedFiles(t *testing.T) {
	spoolDir := t.TempDir()

	q := &fakeQueue{}
	w, err := NewWatcher(spoolDir, q)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	os.WriteFile(filepath.Join(spoolDir, "garbage.json"), []byte(`not json at all`), 0644)

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(spoolDir, "rejected", "garbage.json"))
		return err == nil
	})

	if q.count() != 0 {
		t.Errorf("Expected nothing enqueued, got %d", q.count())
	}
}

func TestWatcher_IgnoresNonJSONFiles(t *testing.T) {
	spoolDir := t.TempDir()

	q := &fakeQueue{}
	w, err := NewWatcher(spoolDir, q)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	os.WriteFile(filepath.Join(spoolDir, "notes.txt"), []byte(`hello`), 0644)

	time.Sleep(time.Second)
	if q.count() != 0 {
		t.Errorf("Expected non-JSON files ignored, got %d enqueued", q.count())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}
