// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/joho/godotenv"

	"github.com/ecosync/internal/config"
	"github.com/ecosync/internal/connectivity"
	"github.com/ecosync/internal/events"
	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/media"
	"github.com/ecosync/internal/processor"
	"github.com/ecosync/internal/queue"
	"github.com/ecosync/internal/remote"
	"github.com/ecosync/internal/retry"
	"github.com/ecosync/internal/spool"
	"github.com/ecosync/internal/store"
	"github.com/ecosync/internal/web"
)

var (
	configPath = flag.String("config", "", "Path to config file (default: ~/.ecosync/config.yaml)")
	ledgerAddr = flag.String("ledger", "", "Attestation service address (overrides config)")
	blobAddr   = flag.String("blob", "", "Blob store address (overrides config)")
	chainID    = flag.String("chain-id", "", "Target chain id (overrides config)")
	webPort    = flag.Int("web-port", 0, "Status API port (overrides config)")
)

func main() {
	flag.Parse()

	// .env is optional; it seeds ECOSYNC_* variables viper picks up
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyCLIFlags(cfg, *ledgerAddr, *blobAddr, *chainID, *webPort)

	log.Printf("Loaded configuration:")
	log.Printf("  Chain: %s", cfg.ChainID)
	log.Printf("  Ledger: %s", cfg.Ledger.Address)
	log.Printf("  Blob store: %s", cfg.Blob.Address)
	log.Printf("  Storage backend: %s", cfg.Storage.Backend)
	log.Printf("  Status API port: %d", cfg.WebServer.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer st.Close()

	mediaMgr := media.NewManager()
	bus := events.NewBus()

	ledger := remote.NewLedgerClient(cfg.Ledger.Address, cfg.Ledger.APIKey, cfg.Ledger.Account)
	blobs := remote.NewHTTPBlobStore(cfg.Blob.Address, cfg.Blob.APIKey)

	registry := processor.NewRegistry()
	registry.Register(job.KindSubmission, processor.NewSubmissionProcessor(blobs, ledger, mediaMgr, 2*time.Minute))
	registry.Register(job.KindApproval, processor.NewApprovalProcessor(ledger, time.Minute))

	policy := retry.Policy{
		BaseDelay:      cfg.Sync.BaseDelay,
		ExhaustedDelay: cfg.Sync.ExhaustedDelay,
		MaxDelay:       cfg.Sync.MaxDelay,
		MaxAttempts:    cfg.Sync.MaxAttempts,
	}

	svc, err := queue.NewService(st, registry, bus, mediaMgr, policy, cfg.ChainID)
	if err != nil {
		log.Fatalf("Failed to create queue service: %v", err)
	}

	// Desktop notification when a job is abandoned; transient retries stay
	// silent.
	if cfg.Notifications {
		svc.Subscribe(func(e job.Event) {
			if e.Type != job.EventJobFailed {
				return
			}
			title := "Sync failed"
			message := "A queued record could not be delivered: " + e.Error
			if err := beeep.Notify(title, message, ""); err != nil {
				log.Printf("Failed to send OS notification: %v", err)
			}
		})
	}

	monitor := connectivity.NewMonitor(
		cfg.Ledger.Address+"/api/v1/health",
		cfg.Ledger.APIKey,
		cfg.Sync.ProbeInterval,
		cfg.Sync.SyncInterval,
		cfg.Notifications,
		func(ctx context.Context) {
			if _, err := svc.Flush(ctx); err != nil {
				log.Printf("Flush failed: %v", err)
			}
		},
	)
	monitor.Start()
	defer monitor.Stop()

	if cfg.Spool.Enabled {
		spoolWatcher, err := spool.NewWatcher(cfg.Spool.Dir, svc)
		if err != nil {
			log.Fatalf("Failed to create spool watcher: %v", err)
		}
		if err := spoolWatcher.Start(ctx); err != nil {
			log.Fatalf("Failed to start spool watcher: %v", err)
		}
		defer spoolWatcher.Stop()
	}

	// Retention pass once an hour
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := svc.Prune(ctx, cfg.Sync.Retention)
				if err != nil {
					log.Printf("Prune failed: %v", err)
				} else if n > 0 {
					log.Printf("Pruned %d terminal job(s)", n)
				}
			}
		}
	}()

	webServer := web.NewServer(cfg.WebServer.Port, svc, monitor)
	httpServer := &http.Server{
		Addr:    webServer.Address(),
		Handler: webServer.Handler(),
	}

	go func() {
		log.Printf("Status API starting on http://%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Status API error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Printf("EcoSync agent running. Press Ctrl+C to stop.")
	<-sigChan

	log.Printf("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status API shutdown error: %v", err)
	}
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		client, err := config.NewRedisClient(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client, "ecosync")
	default:
		return store.NewSQLiteStore(cfg.Storage.Dir)
	}
}
