// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ecosync/internal/job"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(id string, createdAt time.Time) job.Job {
	return job.Job{
		ID:        id,
		Kind:      job.KindSubmission,
		Payload:   json.RawMessage(`{"title":"Planted trees"}`),
		ChainID:   "verdant-main",
		CreatedAt: createdAt,
		Status:    job.StatusPending,
	}
}

func TestSQLiteStore_AddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := testJob("job-1", time.Now().UTC().Truncate(time.Second))
	if err := s.Add(ctx, j); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != j.ID || got.Kind != j.Kind || got.ChainID != j.ChainID {
		t.Errorf("Round trip mismatch: got %+v", got)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Expected pending status, got %s", got.Status)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Errorf("Payload mismatch: %s vs %s", got.Payload, j.Payload)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListUnsyncedOrdersByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	// Insert newest first to prove ordering comes from created_at
	for i := 2; i >= 0; i-- {
		j := testJob(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
		if err := s.Add(ctx, j); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	jobs, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(jobs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if jobs[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, jobs[i].ID)
		}
	}
}

func TestSQLiteStore_ListUnsyncedExcludesTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Add(ctx, testJob("pending", now))
	s.Add(ctx, testJob("done", now))
	s.Add(ctx, testJob("dead", now))

	s.Update(ctx, "done", Patch{Status: StatusPatch(job.StatusSynced)})
	s.Update(ctx, "dead", Patch{Status: StatusPatch(job.StatusFailed)})

	jobs, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "pending" {
		t.Errorf("Expected only the pending job, got %+v", jobs)
	}
}

func TestSQLiteStore_UpdatePatchesOnlyGivenFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, testJob("job-1", time.Now().UTC()))

	next := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	err := s.Update(ctx, "job-1", Patch{
		Attempts:      IntPatch(3),
		LastError:     StringPatch("network failure"),
		NextAttemptAt: TimePatch(next),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Attempts != 3 {
		t.Errorf("Expected attempts=3, got %d", got.Attempts)
	}
	if got.LastError != "network failure" {
		t.Errorf("Expected last error recorded, got %q", got.LastError)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Expected status untouched, got %s", got.Status)
	}
	if !got.NextAttemptAt.Equal(next) {
		t.Errorf("Expected next attempt %s, got %s", next, got.NextAttemptAt)
	}
}

func TestSQLiteStore_SyncedIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, testJob("job-1", time.Now().UTC()))
	if err := s.Update(ctx, "job-1", Patch{Status: StatusPatch(job.StatusSynced), TxHash: StringPatch("0xabc")}); err != nil {
		t.Fatalf("Update to synced failed: %v", err)
	}

	// Attempting to demote a synced job is a silent no-op
	if err := s.Update(ctx, "job-1", Patch{Status: StatusPatch(job.StatusFailed)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Status != job.StatusSynced {
		t.Errorf("Expected synced to be terminal, got %s", got.Status)
	}
	if got.TxHash != "0xabc" {
		t.Errorf("Expected receipt retained, got %q", got.TxHash)
	}
}

func TestSQLiteStore_UpdateMissingJob(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(context.Background(), "nope", Patch{Attempts: IntPatch(1)})
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Add(ctx, testJob("p1", now))
	s.Add(ctx, testJob("p2", now))
	s.Add(ctx, testJob("s1", now))
	s.Add(ctx, testJob("f1", now))
	s.Update(ctx, "s1", Patch{Status: StatusPatch(job.StatusSynced)})
	s.Update(ctx, "f1", Patch{Status: StatusPatch(job.StatusFailed)})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := job.QueueStats{Total: 4, Pending: 2, Failed: 1, Synced: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestSQLiteStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, testJob("job-1", time.Now().UTC()))
	if err := s.Remove(ctx, "job-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
}

func TestSQLiteStore_PruneOnlyRemovesOldTerminalJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	s.Add(ctx, testJob("old-pending", old))
	s.Add(ctx, testJob("old-synced", old))
	s.Add(ctx, testJob("new-synced", time.Now().UTC()))
	s.Update(ctx, "old-synced", Patch{Status: StatusPatch(job.StatusSynced)})
	s.Update(ctx, "new-synced", Patch{Status: StatusPatch(job.StatusSynced)})

	n, err := s.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned job, got %d", n)
	}

	if _, err := s.Get(ctx, "old-pending"); err != nil {
		t.Error("Expected old pending job to survive pruning")
	}
	if _, err := s.Get(ctx, "new-synced"); err != nil {
		t.Error("Expected recent synced job to survive pruning")
	}
	if _, err := s.Get(ctx, "old-synced"); err != ErrNotFound {
		t.Error("Expected old synced job to be pruned")
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Add(ctx, testJob("job-1", time.Now().UTC())); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Close()

	s2, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.ID != "job-1" {
		t.Errorf("Expected persisted job, got %+v", got)
	}
}
