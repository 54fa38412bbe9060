// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ecosync/internal/job"
)

// BlobStore accepts binary attachments and returns a stable
// content-addressed reference.
type BlobStore interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// HTTPBlobStore talks to the blob store's HTTP API.
type HTTPBlobStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBlobStore creates a blob store client.
func NewHTTPBlobStore(baseURL, apiKey string) *HTTPBlobStore {
	return &HTTPBlobStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload posts the data and returns its content-addressed reference.
// Re-uploading identical bytes returns the same reference, so upload is
// naturally idempotent across retries.
func (b *HTTPBlobStore) Upload(ctx context.Context, data []byte) (string, error) {
	log.Printf("Upload: size=%d", len(data))

	url := b.baseURL + "/api/v1/blobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		log.Printf("Upload: request failed: %v", err)
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// fall through to decode
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", job.NewClassifiedError(job.ErrKindInvalidPayload, "blob.upload",
			fmt.Errorf("attachment exceeds blob store size limit"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", job.NewClassifiedError(job.ErrKindPermissionDenied, "blob.upload",
			fmt.Errorf("blob store returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", job.NewClassifiedError(job.ErrKindResourceExhausted, "blob.upload",
			fmt.Errorf("blob store returned %d", resp.StatusCode))
	default:
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload",
			fmt.Errorf("blob store returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload", err)
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload",
			fmt.Errorf("failed to decode response: %w", err))
	}
	if out.CID == "" {
		return "", job.NewClassifiedError(job.ErrKindNetwork, "blob.upload",
			fmt.Errorf("blob store returned empty cid"))
	}

	log.Printf("Upload: cid=%s", out.CID)
	return out.CID, nil
}
