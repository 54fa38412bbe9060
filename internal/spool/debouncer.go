// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package spool

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of file system events per path: editors and
// copies emit several writes for one file, and we only want to ingest it
// once the burst settles.
type Debouncer struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	callback func(string)
	delay    time.Duration
}

// NewDebouncer creates a new debouncer with the specified delay.
func NewDebouncer(delay time.Duration, callback func(string)) *Debouncer {
	return &Debouncer{
		timers:   make(map[string]*time.Timer),
		callback: callback,
		delay:    delay,
	}
}

// Trigger schedules or resets the timer for a file path.
func (d *Debouncer) Trigger(filePath string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[filePath]; exists {
		timer.Stop()
	}

	d.timers[filePath] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, filePath)
		callback := d.callback
		d.mu.Unlock()

		if callback != nil {
			callback(filePath)
		}
	})
}

// Stop cancels all pending timers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}
