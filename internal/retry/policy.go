// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package retry

import (
	"time"

	"github.com/ecosync/internal/job"
)

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Abandon is the decision that ends a job's automatic life.
var Abandon = Decision{}

// Policy decides whether a failed job is retried and after how long. It is a
// pure function of (error kind, attempts); it performs no I/O and keeps no
// state, so it is independently testable.
type Policy struct {
	BaseDelay      time.Duration // first backoff step for transient errors
	ExhaustedDelay time.Duration // first backoff step for resource exhaustion
	MaxDelay       time.Duration // backoff ceiling
	MaxAttempts    int           // absolute ceiling; transient errors escalate past it
}

// DefaultPolicy matches the agent's shipped configuration.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      5 * time.Second,
		ExhaustedDelay: time.Minute,
		MaxDelay:       15 * time.Minute,
		MaxAttempts:    8,
	}
}

// Decide returns the verdict for a job that just completed attempt number
// attempts (1-based) with an error of the given kind.
func (p Policy) Decide(kind job.ErrorKind, attempts int) Decision {
	if job.IsPermanent(kind) {
		return Abandon
	}
	if attempts >= p.MaxAttempts {
		// Transient but out of budget: escalate to permanent so the
		// failure surfaces for manual retry.
		return Abandon
	}

	base := p.BaseDelay
	if kind == job.ErrKindResourceExhausted {
		base = p.ExhaustedDelay
	}

	delay := base * (1 << uint(attempts-1))
	if delay > p.MaxDelay || delay < base {
		// The second clause guards against shift overflow wrapping.
		delay = p.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}
