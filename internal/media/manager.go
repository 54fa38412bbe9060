// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package media

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Manager tracks in-memory binary handles bound to a job's lifetime. Handles
// are a bounded resource: every handle created for a job must be released
// exactly once. The queue service calls ReleaseAll inside the same state
// transition that marks a job terminal, so callers cannot forget it.
type Manager struct {
	mu      sync.Mutex
	byJob   map[string]map[string][]byte // jobID -> ref -> data
	created map[string]int               // jobID -> handles ever created
	freed   map[string]int               // jobID -> handles released
}

// NewManager creates an empty media manager.
func NewManager() *Manager {
	return &Manager{
		byJob:   make(map[string]map[string][]byte),
		created: make(map[string]int),
		freed:   make(map[string]int),
	}
}

// CreateHandle registers data under a new reference owned by jobID.
func (m *Manager) CreateHandle(data []byte, jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := fmt.Sprintf("media://%s/%s", jobID, uuid.New().String())
	if m.byJob[jobID] == nil {
		m.byJob[jobID] = make(map[string][]byte)
	}
	m.byJob[jobID][ref] = data
	m.created[jobID]++
	return ref
}

// Open returns the data behind a reference. Released or unknown references
// return an error; a processor hitting this has a stale payload.
func (m *Manager) Open(ref string) ([]byte, error) {
	jobID, err := ownerOf(ref)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.byJob[jobID][ref]
	if !ok {
		return nil, fmt.Errorf("media handle not found or already released: %s", ref)
	}
	return data, nil
}

// ReleaseAll frees every handle owned by jobID. Safe to call repeatedly and
// for jobs that never created a handle.
func (m *Manager) ReleaseAll(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := m.byJob[jobID]
	if len(handles) > 0 {
		m.freed[jobID] += len(handles)
	}
	delete(m.byJob, jobID)
}

// HandleCount returns the number of live handles owned by jobID.
func (m *Manager) HandleCount(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byJob[jobID])
}

// Accounting returns (created, released) totals for jobID. Used to verify
// the release-exactly-once invariant.
func (m *Manager) Accounting(jobID string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created[jobID], m.freed[jobID]
}

// ownerOf extracts the owning job id from a media reference.
func ownerOf(ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, "media://")
	if !ok {
		return "", fmt.Errorf("not a media reference: %s", ref)
	}
	jobID, _, ok := strings.Cut(rest, "/")
	if !ok || jobID == "" {
		return "", fmt.Errorf("malformed media reference: %s", ref)
	}
	return jobID, nil
}
