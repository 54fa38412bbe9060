// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ecosync/internal/events"
	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/media"
	"github.com/ecosync/internal/processor"
	"github.com/ecosync/internal/retry"
	"github.com/ecosync/internal/store"
)

// FlushSummary reports what one processing pass did. Skipped counts jobs
// whose backoff delay had not yet elapsed (or that were left over when the
// context was cancelled); Failed counts attempts that failed this pass,
// whether rescheduled or abandoned.
type FlushSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Service is the queue orchestrator. Producers call Enqueue; the sync
// trigger and the UI call Flush; subscribers watch the event bus. All job
// mutation happens here; producers and readers never write to the store
// directly.
type Service struct {
	store    store.Store
	registry *processor.Registry
	bus      *events.Bus
	media    *media.Manager
	policy   retry.Policy
	chainID  string

	// flushMu makes Flush single-flight: overlapping triggers collapse
	// into one pass, the losers return a no-op summary immediately.
	flushMu sync.Mutex
}

// NewService creates the orchestrator. It fails if the registry is missing a
// processor for any known job kind.
func NewService(st store.Store, reg *processor.Registry, bus *events.Bus, m *media.Manager, policy retry.Policy, chainID string) (*Service, error) {
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor registry: %w", err)
	}
	if chainID == "" {
		return nil, fmt.Errorf("chain id is required")
	}
	return &Service{
		store:    st,
		registry: reg,
		bus:      bus,
		media:    m,
		policy:   policy,
		chainID:  chainID,
	}, nil
}

// Subscribe registers an event handler and returns its unsubscribe function.
func (s *Service) Subscribe(h events.Handler) func() {
	return s.bus.Subscribe(h)
}

// Enqueue validates the payload, writes a new pending job, and emits
// job_added. Acceptance is synchronous; delivery is asynchronous. If the
// store is unavailable the error wraps store.ErrStoreUnavailable and no job
// record exists afterward.
func (s *Service) Enqueue(ctx context.Context, kind job.Kind, payload json.RawMessage) (string, error) {
	if err := job.ValidatePayload(kind, payload); err != nil {
		return "", err
	}

	j := job.New(kind, payload, s.chainID)
	if err := s.store.Add(ctx, j); err != nil {
		log.Printf("Enqueue: store refused job kind=%s: %v", kind, err)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Printf("Enqueue: jobId=%s kind=%s", j.ID, kind)
	s.emit(job.Event{Type: job.EventJobAdded, Job: j})
	return j.ID, nil
}

// EnqueueSubmission builds a submission job from a payload plus raw
// attachment bytes. Media handles are created under the new job's id, so
// their lifetime is bound to the job from the start; if the store refuses
// the job they are released before returning and no record exists.
func (s *Service) EnqueueSubmission(ctx context.Context, payload job.SubmissionPayload, attachments [][]byte) (string, error) {
	j := job.New(job.KindSubmission, nil, s.chainID)

	for _, data := range attachments {
		ref := s.media.CreateHandle(data, j.ID)
		payload.Attachments = append(payload.Attachments, job.Attachment{Handle: ref})
	}

	if err := payload.Validate(); err != nil {
		s.media.ReleaseAll(j.ID)
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.media.ReleaseAll(j.ID)
		return "", job.NewClassifiedError(job.ErrKindInvalidPayload, "submission.encode", err)
	}
	j.Payload = raw

	if err := s.store.Add(ctx, j); err != nil {
		s.media.ReleaseAll(j.ID)
		log.Printf("EnqueueSubmission: store refused job: %v", err)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Printf("EnqueueSubmission: jobId=%s title=%q attachments=%d", j.ID, payload.Title, len(attachments))
	s.emit(job.Event{Type: job.EventJobAdded, Job: j})
	return j.ID, nil
}

// Flush drains unsynced jobs in creation order, strictly one at a time.
// Ordering matters: later jobs may reference earlier jobs' receipts, and
// the execution context is ordering-sensitive across submissions from the
// same account. A job must therefore complete (sync or fail terminally)
// before any younger job is attempted: when the oldest remaining job is
// still in backoff, or its attempt ends retry-scheduled, the pass stops
// and the rest is left for a later pass. Flush is single-flight; a
// concurrent call returns a no-op summary immediately.
func (s *Service) Flush(ctx context.Context) (FlushSummary, error) {
	if !s.flushMu.TryLock() {
		log.Printf("Flush: pass already in progress, skipping")
		return FlushSummary{}, nil
	}
	defer s.flushMu.Unlock()

	jobs, err := s.store.ListUnsynced(ctx)
	if err != nil {
		return FlushSummary{}, fmt.Errorf("failed to list unsynced jobs: %w", err)
	}

	log.Printf("Flush: %d unsynced job(s)", len(jobs))

	var summary FlushSummary
	now := time.Now()
	for i, j := range jobs {
		if ctx.Err() != nil {
			summary.Skipped += len(jobs) - i
			log.Printf("Flush: context cancelled, %d job(s) left for next pass", len(jobs)-i)
			break
		}
		if !j.Due(now) {
			summary.Skipped += len(jobs) - i
			log.Printf("Flush: jobId=%s not due until %s, %d job(s) wait behind it", j.ID, j.NextAttemptAt.Format(time.RFC3339), len(jobs)-i-1)
			break
		}

		res := s.processOne(ctx, j)
		if res == passSynced {
			summary.Processed++
			continue
		}
		summary.Failed++
		if res == passRetrying {
			summary.Skipped += len(jobs) - i - 1
			log.Printf("Flush: jobId=%s retry scheduled, %d job(s) wait behind it", j.ID, len(jobs)-i-1)
			break
		}
	}

	log.Printf("Flush: processed=%d failed=%d skipped=%d", summary.Processed, summary.Failed, summary.Skipped)
	return summary, nil
}

// attemptResult is the outcome of one job attempt within a flush pass.
type attemptResult int

const (
	passSynced   attemptResult = iota // terminal success
	passFailed                        // terminal failure
	passRetrying                      // rescheduled; blocks younger jobs
)

// processOne runs a single job attempt to completion and applies the
// resulting state transition.
func (s *Service) processOne(ctx context.Context, j job.Job) attemptResult {
	s.emit(job.Event{Type: job.EventJobProcessing, Job: j})

	attempts := j.Attempts + 1

	proc, ok := s.registry.Resolve(j.Kind)
	if !ok {
		// Registry validation makes this unreachable for known kinds, but
		// a store written by a newer agent version can carry kinds this
		// build has never heard of.
		err := job.NewClassifiedError(job.ErrKindInvalidPayload, "queue.resolve",
			fmt.Errorf("no processor for kind %q", j.Kind))
		s.markFailed(ctx, j, attempts, err)
		return passFailed
	}

	receipt, err := proc.Process(ctx, j)
	if err == nil {
		s.markSynced(ctx, j, attempts, receipt)
		return passSynced
	}

	kind := job.Classify(err)
	decision := s.policy.Decide(kind, attempts)
	if decision.Retry {
		s.markRetrying(ctx, j, attempts, err, decision.Delay)
		return passRetrying
	}
	s.markFailed(ctx, j, attempts, err)
	return passFailed
}

// markSynced moves a job to its synced terminal state: store update, media
// release, and the job_completed event happen in one transition.
func (s *Service) markSynced(ctx context.Context, j job.Job, attempts int, receipt job.Receipt) {
	patch := store.Patch{
		Status:    store.StatusPatch(job.StatusSynced),
		Attempts:  store.IntPatch(attempts),
		LastError: store.StringPatch(""),
		TxHash:    store.StringPatch(receipt.TxHash),
	}
	if err := s.store.Update(ctx, j.ID, patch); err != nil {
		// The remote side effect exists; the idempotency key makes the
		// inevitable reprocessing harmless.
		log.Printf("markSynced: jobId=%s update failed: %v", j.ID, err)
		return
	}

	s.media.ReleaseAll(j.ID)

	j.Status = job.StatusSynced
	j.Attempts = attempts
	j.LastError = ""
	j.TxHash = receipt.TxHash
	log.Printf("markSynced: jobId=%s txHash=%s attempts=%d", j.ID, receipt.TxHash, attempts)
	s.emit(job.Event{Type: job.EventJobCompleted, Job: j, TxHash: receipt.TxHash, Attempt: attempts})
}

// markRetrying records a failed attempt and schedules the next one.
func (s *Service) markRetrying(ctx context.Context, j job.Job, attempts int, cause error, delay time.Duration) {
	next := time.Now().Add(delay)
	patch := store.Patch{
		Attempts:      store.IntPatch(attempts),
		LastError:     store.StringPatch(cause.Error()),
		NextAttemptAt: store.TimePatch(next),
	}
	if err := s.store.Update(ctx, j.ID, patch); err != nil {
		log.Printf("markRetrying: jobId=%s update failed: %v", j.ID, err)
		return
	}

	j.Attempts = attempts
	j.LastError = cause.Error()
	j.NextAttemptAt = next
	log.Printf("markRetrying: jobId=%s attempts=%d retryIn=%s err=%v", j.ID, attempts, delay, cause)
	s.emit(job.Event{Type: job.EventJobRetrying, Job: j, Error: cause.Error(), Attempt: attempts, RetryIn: delay})
}

// markFailed moves a job to its abandoned terminal state. Like markSynced,
// media release is part of the transition.
func (s *Service) markFailed(ctx context.Context, j job.Job, attempts int, cause error) {
	patch := store.Patch{
		Status:    store.StatusPatch(job.StatusFailed),
		Attempts:  store.IntPatch(attempts),
		LastError: store.StringPatch(cause.Error()),
	}
	if err := s.store.Update(ctx, j.ID, patch); err != nil {
		log.Printf("markFailed: jobId=%s update failed: %v", j.ID, err)
		return
	}

	s.media.ReleaseAll(j.ID)

	j.Status = job.StatusFailed
	j.Attempts = attempts
	j.LastError = cause.Error()
	log.Printf("markFailed: jobId=%s attempts=%d err=%v", j.ID, attempts, cause)
	s.emit(job.Event{Type: job.EventJobFailed, Job: j, Error: cause.Error(), Attempt: attempts})
}

// RetryFailed is the explicit user-initiated retry of a permanently failed
// job: the only path that resets the attempt counter.
func (s *Service) RetryFailed(ctx context.Context, id string) error {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != job.StatusFailed {
		return fmt.Errorf("job %s is %s, only failed jobs can be retried", id, j.Status)
	}

	patch := store.Patch{
		Status:        store.StatusPatch(job.StatusPending),
		Attempts:      store.IntPatch(0),
		LastError:     store.StringPatch(""),
		NextAttemptAt: store.TimePatch(time.Time{}),
	}
	if err := s.store.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("failed to reset job %s: %w", id, err)
	}

	j.Status = job.StatusPending
	j.Attempts = 0
	j.LastError = ""
	j.NextAttemptAt = time.Time{}
	log.Printf("RetryFailed: jobId=%s re-queued", id)
	s.emit(job.Event{Type: job.EventJobAdded, Job: j})
	return nil
}

// Stats recomputes queue statistics from the store.
func (s *Service) Stats(ctx context.Context) (job.QueueStats, error) {
	return s.store.Stats(ctx)
}

// UnsyncedJobs returns the pending jobs in creation order.
func (s *Service) UnsyncedJobs(ctx context.Context) ([]job.Job, error) {
	return s.store.ListUnsynced(ctx)
}

// Get returns one job by id.
func (s *Service) Get(ctx context.Context, id string) (job.Job, error) {
	return s.store.Get(ctx, id)
}

// HasPendingJobs reports whether any job is still awaiting delivery.
func (s *Service) HasPendingJobs(ctx context.Context) (bool, error) {
	n, err := s.PendingCount(ctx)
	return n > 0, err
}

// PendingCount returns the number of jobs awaiting delivery.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Pending, nil
}

// Prune removes terminal jobs older than the retention window.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int, error) {
	return s.store.Prune(ctx, time.Now().Add(-retention))
}

func (s *Service) emit(e job.Event) {
	e.Timestamp = time.Now()
	s.bus.Emit(e)
}
