// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ecosync/internal/job"
)

// Processor turns one job into a remote submission. Implementations must be
// idempotent with respect to job.ID: processing the same id twice must not
// produce two remote side effects. Processors never touch the job store;
// the queue service applies state based on the return value.
type Processor interface {
	Process(ctx context.Context, j job.Job) (job.Receipt, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, j job.Job) (job.Receipt, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, j job.Job) (job.Receipt, error) {
	return f(ctx, j)
}

// Registry maps job kinds to their processors.
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Kind]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[job.Kind]Processor)}
}

// Register binds a processor to a kind, replacing any previous binding.
func (r *Registry) Register(kind job.Kind, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = p
}

// Resolve returns the processor for a kind.
func (r *Registry) Resolve(kind job.Kind) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.handlers[kind]
	return p, ok
}

// Validate checks that every known job kind has a processor. Called at
// startup so a missing handler fails loudly instead of surfacing as a
// runtime "no handler" error on the first matching job.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, kind := range job.Kinds {
		if _, ok := r.handlers[kind]; !ok {
			return fmt.Errorf("no processor registered for job kind %q", kind)
		}
	}
	return nil
}
