// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Attachment is one binary attached to a submission. Before upload it is a
// media handle; after upload it carries the content-addressed reference.
type Attachment struct {
	Handle string `json:"handle,omitempty"` // media manager reference, pre-upload
	CID    string `json:"cid,omitempty"`    // blob store reference, post-upload
	Name   string `json:"name,omitempty"`
}

// Resolved reports whether the attachment already has a blob store reference.
func (a Attachment) Resolved() bool {
	return a.CID != ""
}

// SubmissionPayload is the payload for KindSubmission: one field record to be
// attested on the ledger.
type SubmissionPayload struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate checks the minimal constraints enqueue enforces.
func (p SubmissionPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return NewClassifiedError(ErrKindInvalidPayload, "submission.validate", fmt.Errorf("title is required"))
	}
	for i, a := range p.Attachments {
		if a.Handle == "" && a.CID == "" {
			return NewClassifiedError(ErrKindInvalidPayload, "submission.validate", fmt.Errorf("attachment %d has neither handle nor cid", i))
		}
	}
	return nil
}

// ApprovalPayload is the payload for KindApproval: a decision referencing a
// prior submission's receipt.
type ApprovalPayload struct {
	SubmissionID string `json:"submissionId"`
	TxHash       string `json:"txHash,omitempty"` // receipt of the submission being decided
	Approved     bool   `json:"approved"`
	Note         string `json:"note,omitempty"`
}

// Validate checks the minimal constraints enqueue enforces.
func (p ApprovalPayload) Validate() error {
	if strings.TrimSpace(p.SubmissionID) == "" {
		return NewClassifiedError(ErrKindInvalidPayload, "approval.validate", fmt.Errorf("submissionId is required"))
	}
	return nil
}

// ValidatePayload validates raw payload bytes for a kind. Called by enqueue
// so malformed work is refused synchronously rather than failing in flight.
func ValidatePayload(kind Kind, raw json.RawMessage) error {
	switch kind {
	case KindSubmission:
		var p SubmissionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return NewClassifiedError(ErrKindInvalidPayload, "submission.decode", err)
		}
		return p.Validate()
	case KindApproval:
		var p ApprovalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return NewClassifiedError(ErrKindInvalidPayload, "approval.decode", err)
		}
		return p.Validate()
	default:
		return NewClassifiedError(ErrKindInvalidPayload, "payload.validate", fmt.Errorf("unknown job kind: %s", kind))
	}
}
