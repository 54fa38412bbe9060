// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ecosync/internal/job"
)

// Errors returned by store operations.
var (
	// ErrNotFound is returned when the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrStoreUnavailable is returned when the backing storage cannot
	// accept writes (quota exceeded, closed, unreachable). Enqueue
	// surfaces it synchronously so producers know the work was refused.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// Patch is a partial update to a job record. Nil fields are left untouched.
type Patch struct {
	Status        *job.Status
	Attempts      *int
	LastError     *string
	TxHash        *string
	NextAttemptAt *time.Time
}

// Store is the durable job store: the single source of truth for queue
// state. It may be read concurrently, but only the queue service writes.
// Every implementation guarantees that an Update is applied fully or not at
// all, even across an abrupt process termination, and that ListUnsynced
// reflects all previously committed writes.
type Store interface {
	// Add persists a new job record.
	Add(ctx context.Context, j job.Job) error

	// Get returns the job with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (job.Job, error)

	// ListUnsynced returns all pending jobs in creation order, oldest
	// first. Terminal jobs (synced or failed) are excluded.
	ListUnsynced(ctx context.Context) ([]job.Job, error)

	// Update applies a patch to one job. A job already marked synced is
	// never moved to another status: synced is terminal and monotonic.
	Update(ctx context.Context, id string, p Patch) error

	// Remove deletes a job record.
	Remove(ctx context.Context, id string) error

	// Stats recomputes queue statistics from the stored records.
	Stats(ctx context.Context) (job.QueueStats, error)

	// Prune deletes terminal jobs created before the cutoff and returns
	// how many were removed. Pending jobs are never pruned.
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying storage.
	Close() error
}

// Helpers for building patches without pointer noise at call sites.

func StatusPatch(s job.Status) *job.Status { return &s }
func IntPatch(n int) *int                  { return &n }
func StringPatch(s string) *string         { return &s }
func TimePatch(t time.Time) *time.Time     { return &t }
