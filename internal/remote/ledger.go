// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ecosync/internal/job"
)

// Signer is the signer/execution context: it submits an encoded record to
// the ledger and returns a durable receipt. It may be absent (no account),
// present-but-unready, or ready.
type Signer interface {
	// Ready reports whether a usable account context is loaded.
	Ready() bool

	// Submit delivers the encoded record to the target chain. The
	// idempotency key is derived from the job id; submitting the same key
	// twice must not produce two ledger side effects.
	Submit(ctx context.Context, record []byte, chainID, idempotencyKey string) (job.Receipt, error)
}

// LedgerClient is the HTTP implementation of Signer against the attestation
// service.
type LedgerClient struct {
	baseURL string
	client  *http.Client

	mu      sync.RWMutex
	apiKey  string
	account string
}

// NewLedgerClient creates a ledger client. apiKey and account may be empty;
// the client then reports not-ready until SetAccount is called.
func NewLedgerClient(baseURL, apiKey, account string) *LedgerClient {
	return &LedgerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		account: account,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Ready reports whether an account context is loaded.
func (l *LedgerClient) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.apiKey != "" && l.account != ""
}

// SetAccount swaps the signer context, e.g. after the user re-authenticates.
// In-flight submissions keep the context they captured; the queue picks up
// the new one on the next job.
func (l *LedgerClient) SetAccount(apiKey, account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apiKey = apiKey
	l.account = account
	log.Printf("SetAccount: account=%s keySet=%v", account, apiKey != "")
}

type submitRequest struct {
	Record         json.RawMessage `json:"record"`
	ChainID        string          `json:"chainId"`
	Account        string          `json:"account"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type submitResponse struct {
	TxHash      string    `json:"txHash"`
	Attestation string    `json:"attestation,omitempty"`
	AcceptedAt  time.Time `json:"acceptedAt,omitempty"`
}

// Submit delivers the encoded record to the attestation service.
func (l *LedgerClient) Submit(ctx context.Context, record []byte, chainID, idempotencyKey string) (job.Receipt, error) {
	l.mu.RLock()
	apiKey, account := l.apiKey, l.account
	l.mu.RUnlock()

	if apiKey == "" || account == "" {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindSignerNotReady, "ledger.submit",
			fmt.Errorf("no account context loaded"))
	}

	log.Printf("Submit: chainId=%s idempotencyKey=%s recordSize=%d", chainID, idempotencyKey, len(record))

	body, err := json.Marshal(submitRequest{
		Record:         record,
		ChainID:        chainID,
		Account:        account,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "ledger.submit", err)
	}

	url := l.baseURL + "/api/v1/attestations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindNetwork, "ledger.submit", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := l.client.Do(req)
	if err != nil {
		log.Printf("Submit: request failed: %v", err)
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindNetwork, "ledger.submit", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// accepted now
	case http.StatusConflict:
		// Idempotency replay: the service already accepted this key and
		// returns the original receipt in the response body.
		log.Printf("Submit: idempotency replay for key=%s", idempotencyKey)
	case http.StatusUnauthorized, http.StatusForbidden:
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindPermissionDenied, "ledger.submit",
			fmt.Errorf("ledger returned %d", resp.StatusCode))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindInvalidPayload, "ledger.submit",
			fmt.Errorf("ledger rejected record: %d", resp.StatusCode))
	case http.StatusTooManyRequests:
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindResourceExhausted, "ledger.submit",
			fmt.Errorf("ledger returned %d", resp.StatusCode))
	default:
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindNetwork, "ledger.submit",
			fmt.Errorf("ledger returned %d", resp.StatusCode))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindNetwork, "ledger.submit",
			fmt.Errorf("failed to decode receipt: %w", err))
	}
	if out.TxHash == "" {
		return job.Receipt{}, job.NewClassifiedError(job.ErrKindNetwork, "ledger.submit",
			fmt.Errorf("ledger returned empty txHash"))
	}

	log.Printf("Submit: accepted txHash=%s", out.TxHash)
	return job.Receipt{TxHash: out.TxHash, Attestation: out.Attestation, AcceptedAt: out.AcceptedAt}, nil
}
