// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}

func TestMonitor_GoesOnlineAndFlushes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var flushes int64
	m := NewMonitor(srv.URL+"/health", "", 20*time.Millisecond, time.Hour, false, func(ctx context.Context) {
		atomic.AddInt64(&flushes, 1)
	})
	m.Start()
	defer m.Stop()

	waitFor(t, m.Online)

	if m.Status() != "online" {
		t.Errorf("Expected status online, got %s", m.Status())
	}
	// unknown-to-online transition drains the queue once
	waitFor(t, func() bool { return atomic.LoadInt64(&flushes) >= 1 })
}

func TestMonitor_OfflineAfterThreeFailures(t *testing.T) {
	m := NewMonitor("http://127.0.0.1:1/health", "", 10*time.Millisecond, time.Hour, false, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool { return m.Status() == "offline" })

	if m.Online() {
		t.Error("Expected offline after consecutive failures")
	}
}

func TestMonitor_RecoveryTriggersFlush(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	var flushes int64
	m := NewMonitor(srv.URL+"/health", "", 10*time.Millisecond, time.Hour, false, func(ctx context.Context) {
		atomic.AddInt64(&flushes, 1)
	})
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool { return m.Status() == "offline" })
	before := atomic.LoadInt64(&flushes)

	healthy.Store(true)
	waitFor(t, m.Online)
	waitFor(t, func() bool { return atomic.LoadInt64(&flushes) > before })
}

func TestMonitor_PeriodicSyncOnlyWhenOnline(t *testing.T) {
	var flushes int64
	m := NewMonitor("http://127.0.0.1:1/health", "", 10*time.Millisecond, 15*time.Millisecond, false, func(ctx context.Context) {
		atomic.AddInt64(&flushes, 1)
	})
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool { return m.Status() == "offline" })
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt64(&flushes); n != 0 {
		t.Errorf("Expected no sync flushes while offline, got %d", n)
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m := NewMonitor("http://127.0.0.1:1/health", "", time.Hour, time.Hour, false, nil)
	m.Start()
	m.Stop()
	m.Stop()
}
