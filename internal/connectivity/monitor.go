// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
)

// Monitor tracks reachability of the remote service and drives the queue's
// flush. Three triggers funnel into the same single-flight flush: the
// periodic sync ticker, the offline-to-online transition, and manual calls
// made elsewhere.
type Monitor struct {
	healthURL    string
	apiKey       string
	probeEvery   time.Duration
	syncEvery    time.Duration
	notify       bool
	flush        func(ctx context.Context)
	ticker       *time.Ticker
	syncTicker   *time.Ticker
	status       string // "online", "offline", "unknown"
	failureCount int
	mu           sync.RWMutex
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewMonitor creates a connectivity monitor. flush is invoked in its own
// goroutine on every sync tick and on each offline-to-online transition.
func NewMonitor(healthURL, apiKey string, probeEvery, syncEvery time.Duration, notify bool, flush func(ctx context.Context)) *Monitor {
	if probeEvery <= 0 {
		probeEvery = 10 * time.Second
	}
	if syncEvery <= 0 {
		syncEvery = time.Minute
	}
	return &Monitor{
		healthURL:  healthURL,
		apiKey:     apiKey,
		probeEvery: probeEvery,
		syncEvery:  syncEvery,
		notify:     notify,
		flush:      flush,
		status:     "unknown",
		stopChan:   make(chan struct{}),
	}
}

// Start begins probing and periodic sync.
func (m *Monitor) Start() {
	m.ticker = time.NewTicker(m.probeEvery)
	m.syncTicker = time.NewTicker(m.syncEvery)

	go m.monitorLoop()
	log.Printf("Connectivity monitor started: health=%s probeEvery=%s syncEvery=%s", m.healthURL, m.probeEvery, m.syncEvery)
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
		if m.syncTicker != nil {
			m.syncTicker.Stop()
		}
		close(m.stopChan)
		log.Printf("Connectivity monitor stopped")
	})
}

// Online reports whether the remote service was reachable on the last probe.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == "online"
}

// Status returns the current connectivity status string.
func (m *Monitor) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// monitorLoop runs the probe and sync tickers.
func (m *Monitor) monitorLoop() {
	// Probe immediately so the agent doesn't sit in "unknown" for a full
	// tick after startup.
	m.checkHealth()

	for {
		select {
		case <-m.stopChan:
			return
		case <-m.ticker.C:
			m.checkHealth()
		case <-m.syncTicker.C:
			if m.Online() {
				log.Printf("Connectivity: periodic sync tick")
				m.triggerFlush()
			}
		}
	}
}

// checkHealth probes the remote health endpoint.
func (m *Monitor) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		log.Printf("Connectivity: failed to create request: %v", err)
		m.handleFailure()
		return
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		m.handleFailure()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.handleSuccess()
	} else {
		m.handleFailure()
	}
}

// handleSuccess handles a successful probe. The offline-to-online
// transition triggers a flush so queued work drains as soon as the service
// is back.
func (m *Monitor) handleSuccess() {
	m.mu.Lock()
	wasOffline := m.status == "offline" || m.status == "unknown"
	m.status = "online"
	m.failureCount = 0
	m.mu.Unlock()

	if wasOffline {
		log.Printf("Connectivity: remote service reachable, draining queue")
		m.triggerFlush()
	}
}

// handleFailure handles a failed probe.
func (m *Monitor) handleFailure() {
	m.mu.Lock()
	m.failureCount++
	failureCount := m.failureCount
	wasOnline := m.status == "online"
	if failureCount >= 3 {
		m.status = "offline"
	}
	m.mu.Unlock()

	log.Printf("Connectivity: health check failed (attempt %d): %s", failureCount, m.healthURL)

	if failureCount == 3 && wasOnline {
		log.Printf("Connectivity: remote service unreachable (3 consecutive failures), queueing locally")
		if m.notify {
			title := "Working offline"
			message := fmt.Sprintf("The sync service at %s is unreachable. New records will be queued locally.", m.healthURL)
			if err := beeep.Notify(title, message, ""); err != nil {
				log.Printf("Connectivity: failed to send OS notification: %v", err)
			}
		}
	}
}

func (m *Monitor) triggerFlush() {
	if m.flush == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		m.flush(ctx)
	}()
}
