// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/media"
)

// fakeBlobStore returns content-derived references, like a real
// content-addressed store.
type fakeBlobStore struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (f *fakeBlobStore) Upload(ctx context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	return fmt.Sprintf("cid-%x", sha256.Sum256(data))[:20], nil
}

// fakeSigner counts remote side effects per idempotency key. Submitting the
// same key twice records one side effect, like the real ledger.
type fakeSigner struct {
	mu          sync.Mutex
	ready       bool
	err         error
	sideEffects map[string]int
	lastChainID string
	lastRecord  []byte
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{ready: true, sideEffects: make(map[string]int)}
}

func (f *fakeSigner) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSigner) Submit(ctx context.Context, record []byte, chainID, idempotencyKey string) (job.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return job.Receipt{}, f.err
	}
	if f.sideEffects[idempotencyKey] == 0 {
		f.sideEffects[idempotencyKey] = 1
	}
	f.lastChainID = chainID
	f.lastRecord = record
	return job.Receipt{TxHash: "0x" + idempotencyKey[:8]}, nil
}

func (f *fakeSigner) totalSideEffects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.sideEffects {
		total += n
	}
	return total
}

func submissionJob(t *testing.T, m *media.Manager, withAttachment bool) job.Job {
	t.Helper()

	j := job.New(job.KindSubmission, nil, "verdant-main")
	payload := job.SubmissionPayload{Title: "Planted trees"}
	if withAttachment {
		ref := m.CreateHandle([]byte("photo"), j.ID)
		payload.Attachments = []job.Attachment{{Handle: ref, Name: "photo.jpg"}}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	j.Payload = raw
	return j
}

func TestSubmissionProcessor_UploadsAndSubmits(t *testing.T) {
	m := media.NewManager()
	blobs := &fakeBlobStore{}
	signer := newFakeSigner()
	p := NewSubmissionProcessor(blobs, signer, m, time.Minute)

	j := submissionJob(t, m, true)
	receipt, err := p.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if receipt.TxHash == "" {
		t.Error("Expected a receipt")
	}
	if blobs.uploads != 1 {
		t.Errorf("Expected 1 upload, got %d", blobs.uploads)
	}
	if signer.lastChainID != "verdant-main" {
		t.Errorf("Expected chain id forwarded, got %q", signer.lastChainID)
	}

	var record struct {
		Type        string   `json:"type"`
		ClientJobID string   `json:"clientJobId"`
		Attachments []string `json:"attachments"`
	}
	if err := json.Unmarshal(signer.lastRecord, &record); err != nil {
		t.Fatalf("Record is not valid JSON: %v", err)
	}
	if record.Type != "submission" || record.ClientJobID != j.ID {
		t.Errorf("Unexpected record: %+v", record)
	}
	if len(record.Attachments) != 1 {
		t.Errorf("Expected 1 attachment cid, got %v", record.Attachments)
	}
}

func TestSubmissionProcessor_IsIdempotentPerJobID(t *testing.T) {
	m := media.NewManager()
	blobs := &fakeBlobStore{}
	signer := newFakeSigner()
	p := NewSubmissionProcessor(blobs, signer, m, time.Minute)

	j := submissionJob(t, m, true)

	// Simulate a crash between remote acceptance and local mark-synced:
	// the same job is processed twice.
	r1, err := p.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("First process failed: %v", err)
	}
	r2, err := p.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("Second process failed: %v", err)
	}

	if signer.totalSideEffects() != 1 {
		t.Errorf("Expected exactly 1 remote side effect, got %d", signer.totalSideEffects())
	}
	if r1.TxHash != r2.TxHash {
		t.Errorf("Expected identical receipts, got %s and %s", r1.TxHash, r2.TxHash)
	}
}

func TestSubmissionProcessor_SkipsResolvedAttachments(t *testing.T) {
	m := media.NewManager()
	blobs := &fakeBlobStore{}
	signer := newFakeSigner()
	p := NewSubmissionProcessor(blobs, signer, m, time.Minute)

	j := job.New(job.KindSubmission, nil, "verdant-main")
	raw, _ := json.Marshal(job.SubmissionPayload{
		Title:       "Planted trees",
		Attachments: []job.Attachment{{CID: "cid-already-there"}},
	})
	j.Payload = raw

	if _, err := p.Process(context.Background(), j); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if blobs.uploads != 0 {
		t.Errorf("Expected no uploads for resolved attachment, got %d", blobs.uploads)
	}
}

func TestSubmissionProcessor_PropagatesBlobErrors(t *testing.T) {
	m := media.NewManager()
	blobs := &fakeBlobStore{err: job.NewClassifiedError(job.ErrKindNetwork, "blob.upload", fmt.Errorf("dial tcp: refused"))}
	signer := newFakeSigner()
	p := NewSubmissionProcessor(blobs, signer, m, time.Minute)

	j := submissionJob(t, m, true)
	_, err := p.Process(context.Background(), j)
	if err == nil {
		t.Fatal("Expected error")
	}
	if job.Classify(err) != job.ErrKindNetwork {
		t.Errorf("Expected network classification, got %s", job.Classify(err))
	}
	if signer.totalSideEffects() != 0 {
		t.Error("Expected no submit after upload failure")
	}
}

func TestSubmissionProcessor_ReleasedHandleIsInvalidPayload(t *testing.T) {
	m := media.NewManager()
	p := NewSubmissionProcessor(&fakeBlobStore{}, newFakeSigner(), m, time.Minute)

	j := submissionJob(t, m, true)
	m.ReleaseAll(j.ID)

	_, err := p.Process(context.Background(), j)
	if err == nil {
		t.Fatal("Expected error for released handle")
	}
	if job.Classify(err) != job.ErrKindInvalidPayload {
		t.Errorf("Expected invalid_payload classification, got %s", job.Classify(err))
	}
}

func TestSubmissionProcessor_SkipsUploadsWhenSignerNotReady(t *testing.T) {
	m := media.NewManager()
	blobs := &fakeBlobStore{}
	signer := newFakeSigner()
	signer.ready = false
	p := NewSubmissionProcessor(blobs, signer, m, time.Minute)

	j := submissionJob(t, m, true)
	_, err := p.Process(context.Background(), j)
	if err == nil {
		t.Fatal("Expected error with no account context")
	}
	if kind := job.Classify(err); kind != job.ErrKindSignerNotReady {
		t.Errorf("Expected signer_not_ready, got %s", kind)
	}
	if blobs.uploads != 0 {
		t.Errorf("Expected no uploads before the signer check, got %d", blobs.uploads)
	}
}

func TestApprovalProcessor_SubmitsDecision(t *testing.T) {
	signer := newFakeSigner()
	p := NewApprovalProcessor(signer, time.Minute)

	j := job.New(job.KindApproval, nil, "verdant-main")
	raw, _ := json.Marshal(job.ApprovalPayload{SubmissionID: "sub-1", TxHash: "0xaaa", Approved: true})
	j.Payload = raw

	receipt, err := p.Process(context.Background(), j)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if receipt.TxHash == "" {
		t.Error("Expected a receipt")
	}

	var record struct {
		Type         string `json:"type"`
		SubmissionID string `json:"submissionId"`
		Approved     bool   `json:"approved"`
	}
	if err := json.Unmarshal(signer.lastRecord, &record); err != nil {
		t.Fatalf("Record is not valid JSON: %v", err)
	}
	if record.Type != "approval" || record.SubmissionID != "sub-1" || !record.Approved {
		t.Errorf("Unexpected record: %+v", record)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate(); err == nil {
		t.Error("Expected validation failure for empty registry")
	}

	noop := ProcessorFunc(func(ctx context.Context, j job.Job) (job.Receipt, error) {
		return job.Receipt{TxHash: "0x1"}, nil
	})
	r.Register(job.KindSubmission, noop)
	if err := r.Validate(); err == nil {
		t.Error("Expected validation failure with approval missing")
	}

	r.Register(job.KindApproval, noop)
	if err := r.Validate(); err != nil {
		t.Errorf("Expected valid registry, got %v", err)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Resolve(job.KindSubmission); ok {
		t.Error("Expected no processor before registration")
	}

	noop := ProcessorFunc(func(ctx context.Context, j job.Job) (job.Receipt, error) {
		return job.Receipt{}, nil
	})
	r.Register(job.KindSubmission, noop)
	if _, ok := r.Resolve(job.KindSubmission); !ok {
		t.Error("Expected processor after registration")
	}
}
