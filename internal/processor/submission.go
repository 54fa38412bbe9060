// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/media"
	"github.com/ecosync/internal/remote"
)

// SubmissionProcessor delivers a field record: it uploads any unresolved
// attachments to the blob store, assembles the record, and submits it for
// signing and execution.
//
// Idempotency: the blob store is content-addressed, so re-uploading the same
// attachment yields the same reference, and the ledger submit carries an
// idempotency key derived from the job id. A crash between remote acceptance
// and local mark-synced therefore cannot double-submit.
type SubmissionProcessor struct {
	blobs   remote.BlobStore
	signer  remote.Signer
	media   *media.Manager
	timeout time.Duration
}

// NewSubmissionProcessor creates a submission processor.
func NewSubmissionProcessor(blobs remote.BlobStore, signer remote.Signer, m *media.Manager, timeout time.Duration) *SubmissionProcessor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &SubmissionProcessor{blobs: blobs, signer: signer, media: m, timeout: timeout}
}

// submissionRecord is the encoded form sent to the ledger.
type submissionRecord struct {
	Type        string   `json:"type"`
	ClientJobID string   `json:"clientJobId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attachments []string `json:"attachments,omitempty"` // blob store cids
}

// Process implements Processor.
func (p *SubmissionProcessor) Process(ctx context.Context, j job.Job) (job.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var payload job.SubmissionPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "submission.decode", err)
	}

	log.Printf("SubmissionProcessor: jobId=%s title=%q attachments=%d", j.ID, payload.Title, len(payload.Attachments))

	// Submit would fail anyway without an account context; checking first
	// avoids re-uploading every attachment on each retry of the outage.
	if !p.signer.Ready() {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindSignerNotReady, "submission.signer",
			fmt.Errorf("no account context loaded"))
	}

	cids := make([]string, 0, len(payload.Attachments))
	for i, a := range payload.Attachments {
		if a.Resolved() {
			cids = append(cids, a.CID)
			continue
		}

		data, err := p.media.Open(a.Handle)
		if err != nil {
			return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "submission.attachment", err)
		}

		cid, err := p.blobs.Upload(ctx, data)
		if err != nil {
			log.Printf("SubmissionProcessor: jobId=%s attachment %d upload failed: %v", j.ID, i, err)
			return job.Receipt{}, err
		}
		cids = append(cids, cid)
	}

	record, err := json.Marshal(submissionRecord{
		Type:        "submission",
		ClientJobID: j.ID,
		Title:       payload.Title,
		Description: payload.Description,
		Location:    payload.Location,
		Attachments: cids,
	})
	if err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "submission.encode", err)
	}

	receipt, err := p.signer.Submit(ctx, record, j.ChainID, job.IdempotencyKey(j.ID))
	if err != nil {
		return job.Receipt{}, err
	}

	log.Printf("SubmissionProcessor: jobId=%s accepted txHash=%s", j.ID, receipt.TxHash)
	return receipt, nil
}
