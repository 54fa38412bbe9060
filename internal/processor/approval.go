// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/remote"
)

// ApprovalProcessor delivers a decision about a prior submission. The
// payload references the submission's receipt, which is why the queue
// processes jobs strictly in creation order: an approval enqueued after a
// submission must not reach the ledger before it.
type ApprovalProcessor struct {
	signer  remote.Signer
	timeout time.Duration
}

// NewApprovalProcessor creates an approval processor.
func NewApprovalProcessor(signer remote.Signer, timeout time.Duration) *ApprovalProcessor {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ApprovalProcessor{signer: signer, timeout: timeout}
}

type approvalRecord struct {
	Type         string `json:"type"`
	ClientJobID  string `json:"clientJobId"`
	SubmissionID string `json:"submissionId"`
	TxHash       string `json:"txHash,omitempty"`
	Approved     bool   `json:"approved"`
	Note         string `json:"note,omitempty"`
}

// Process implements Processor.
func (p *ApprovalProcessor) Process(ctx context.Context, j job.Job) (job.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var payload job.ApprovalPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "approval.decode", err)
	}

	log.Printf("ApprovalProcessor: jobId=%s submissionId=%s approved=%v", j.ID, payload.SubmissionID, payload.Approved)

	record, err := json.Marshal(approvalRecord{
		Type:         "approval",
		ClientJobID:  j.ID,
		SubmissionID: payload.SubmissionID,
		TxHash:       payload.TxHash,
		Approved:     payload.Approved,
		Note:         payload.Note,
	})
	if err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "approval.encode", err)
	}

	receipt, err := p.signer.Submit(ctx, record, j.ChainID, job.IdempotencyKey(j.ID))
	if err != nil {
		return job.Receipt{}, err
	}

	log.Printf("ApprovalProcessor: jobId=%s accepted txHash=%s", j.ID, receipt.TxHash)
	return receipt, nil
}
