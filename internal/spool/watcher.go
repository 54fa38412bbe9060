// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ecosync/internal/job"
)

// Enqueuer is the slice of the queue service the spool needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind job.Kind, payload json.RawMessage) (string, error)
}

// spoolFile is the on-disk producer format: a JSON file dropped into the
// spool directory becomes one queued job.
type spoolFile struct {
	Kind    job.Kind        `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Watcher ingests job files from a spool directory. Accepted files move to
// archived/, malformed ones to rejected/, so the spool directory itself only
// ever holds work in flight.
type Watcher struct {
	dir       string
	queue     Enqueuer
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	cancel    context.CancelFunc
}

// NewWatcher creates a spool watcher over dir, creating the directory
// layout if needed.
func NewWatcher(dir string, queue Enqueuer) (*Watcher, error) {
	for _, d := range []string{dir, filepath.Join(dir, "archived"), filepath.Join(dir, "rejected")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create spool directory %s: %w", d, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{dir: dir, queue: queue, watcher: fsw}
	w.debouncer = NewDebouncer(500*time.Millisecond, w.ingest)
	return w, nil
}

// Start begins watching the spool directory. Files already present at
// startup are ingested first, so work spooled while the agent was down is
// not lost.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.watcher.Add(w.dir); err != nil {
		cancel()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to scan spool directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isJobFile(e.Name()) {
			w.debouncer.Trigger(filepath.Join(w.dir, e.Name()))
		}
	}

	go w.processEvents(ctx)
	log.Printf("Spool watcher started: dir=%s", w.dir)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.debouncer.Stop()
	w.watcher.Close()
	log.Printf("Spool watcher stopped")
}

// processEvents drains fsnotify events into the debouncer.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isJobFile(event.Name) {
				continue
			}
			w.debouncer.Trigger(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Spool watcher error: %v", err)
		}
	}
}

// ingest reads one spool file and enqueues it.
func (w *Watcher) ingest(path string) {
	log.Printf("Spool ingest: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Spool ingest: failed to read %s: %v", path, err)
		return
	}

	id, err := EnqueueFile(context.Background(), w.queue, data)
	if err != nil {
		log.Printf("Spool ingest: rejected %s: %v", path, err)
		w.moveTo(path, "rejected")
		return
	}

	log.Printf("Spool ingest: enqueued jobId=%s from %s", id, path)
	w.moveTo(path, "archived")
}

// EnqueueFile parses spool file contents and enqueues the job it describes.
func EnqueueFile(ctx context.Context, queue Enqueuer, data []byte) (string, error) {
	var sf spoolFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", fmt.Errorf("malformed spool file: %w", err)
	}
	if sf.Kind == "" {
		return "", fmt.Errorf("spool file missing kind")
	}
	return queue.Enqueue(ctx, sf.Kind, sf.Payload)
}

func (w *Watcher) moveTo(path, subdir string) {
	dest := filepath.Join(w.dir, subdir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Printf("Spool ingest: failed to move %s to %s: %v", path, subdir, err)
	}
}

func isJobFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}
