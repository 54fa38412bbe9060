// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind selects which processor handles a job's payload.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindApproval   Kind = "approval"
)

// Kinds lists every kind the engine knows about. The processor registry is
// validated against this list at startup.
var Kinds = []Kind{KindSubmission, KindApproval}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Job is one durable unit of work: a record accepted locally that still has
// to be delivered to the remote ledger.
type Job struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	ChainID       string          `json:"chainId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	TxHash        string          `json:"txHash,omitempty"`
	NextAttemptAt time.Time       `json:"nextAttemptAt,omitempty"`
}

// Synced reports whether the remote ledger has durably accepted the job.
func (j Job) Synced() bool {
	return j.Status == StatusSynced
}

// Terminal reports whether the job will never be processed again without an
// explicit user-initiated retry.
func (j Job) Terminal() bool {
	return j.Status == StatusSynced || j.Status == StatusFailed
}

// Due reports whether the job's backoff delay has elapsed.
func (j Job) Due(now time.Time) bool {
	return j.NextAttemptAt.IsZero() || !now.Before(j.NextAttemptAt)
}

// New creates a pending job with a fresh id.
func New(kind Kind, payload json.RawMessage, chainID string) Job {
	return Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		ChainID:   chainID,
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
	}
}

// receiptNamespace is the fixed UUID namespace for id-derived idempotency
// keys. Changing it would break idempotency across agent versions.
var receiptNamespace = uuid.MustParse("8f2a1c34-09d7-4b6e-9f21-5f4c8e7a1b02")

// IdempotencyKey derives a deterministic key from a job id. The same job id
// always yields the same key, so a crash between remote acceptance and local
// mark-synced cannot produce a second remote side effect. The UI may also use
// it as a placeholder receipt before the real one exists.
func IdempotencyKey(jobID string) string {
	return uuid.NewSHA1(receiptNamespace, []byte(jobID)).String()
}

// Receipt is the durable identifier the ledger returns on acceptance.
type Receipt struct {
	TxHash      string    `json:"txHash"`
	Attestation string    `json:"attestation,omitempty"`
	AcceptedAt  time.Time `json:"acceptedAt,omitempty"`
}

// QueueStats is derived from the store on demand; it is never persisted.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced"`
}

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventJobAdded      EventType = "job_added"
	EventJobProcessing EventType = "job_processing"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventJobRetrying   EventType = "job_retrying"
)

// Event is broadcast on every queue state transition. Events are transient:
// subscribers registered after emission never see it.
type Event struct {
	Type      EventType     `json:"type"`
	Job       Job           `json:"job"`
	TxHash    string        `json:"txHash,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	RetryIn   time.Duration `json:"retryIn,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
