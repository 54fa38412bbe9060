// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package web

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecosync/internal/connectivity"
	"github.com/ecosync/internal/job"
	"github.com/ecosync/internal/queue"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server only binds loopback; any local UI may connect.
		return true
	},
}

// Server exposes the queue to a local UI: stats, pending jobs, enqueue,
// flush, manual retry, and a websocket stream of queue events.
type Server struct {
	port    int
	queue   *queue.Service
	monitor *connectivity.Monitor
}

// NewServer creates a new status server.
func NewServer(port int, q *queue.Service, m *connectivity.Monitor) *Server {
	return &Server{port: port, queue: q, monitor: m}
}

// Address returns the listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobByID)
	mux.HandleFunc("/api/v1/enqueue", s.handleEnqueue)
	mux.HandleFunc("/api/v1/flush", s.handleFlush)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/status", s.handleStatus)

	return mux
}

// handleStats returns derived queue statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// handleStatus returns connectivity and pending-work status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.PendingCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"connectivity": s.monitor.Status(),
		"pendingJobs":  pending,
	})
}

// handleJobs lists pending jobs in creation order.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.UnsyncedJobs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, jobs)
}

// handleJobByID serves GET /api/v1/jobs/{id} and POST /api/v1/jobs/{id}/retry.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		j, err := s.queue.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, j)
	case action == "retry" && r.Method == http.MethodPost:
		if err := s.queue.RetryFailed(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "requeued", "id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type enqueueRequest struct {
	Kind        job.Kind        `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attachments []string        `json:"attachments,omitempty"` // base64, submission only
}

// handleEnqueue accepts a job from a local producer. Submissions may carry
// base64 attachments, which become media handles bound to the new job.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var id string
	var err error
	if req.Kind == job.KindSubmission && len(req.Attachments) > 0 {
		var payload job.SubmissionPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			http.Error(w, "malformed payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		attachments := make([][]byte, 0, len(req.Attachments))
		for i, enc := range req.Attachments {
			data, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				http.Error(w, fmt.Sprintf("attachment %d is not valid base64", i), http.StatusBadRequest)
				return
			}
			attachments = append(attachments, data)
		}
		id, err = s.queue.EnqueueSubmission(r.Context(), payload, attachments)
	} else {
		id, err = s.queue.Enqueue(r.Context(), req.Kind, req.Payload)
	}

	if err != nil {
		log.Printf("handleEnqueue: refused: %v", err)
		status := http.StatusBadRequest
		if !job.IsPermanent(job.Classify(err)) {
			// store unavailable and friends
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"id": id, "placeholderReceipt": job.IdempotencyKey(id)}); err != nil {
		log.Printf("handleEnqueue: %v", err)
	}
}

// handleFlush triggers a processing pass and returns its summary.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.queue.Flush(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

// handleEvents upgrades to a websocket and streams queue events until the
// client disconnects. Events are forwarded through a buffered channel so a
// slow UI cannot stall the queue's synchronous event delivery.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("handleEvents: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	eventCh := make(chan job.Event, 256)
	unsubscribe := s.queue.Subscribe(func(e job.Event) {
		select {
		case eventCh <- e:
		default:
			// Slow client, drop rather than block the queue.
		}
	})
	defer unsubscribe()

	log.Printf("handleEvents: client connected: %s", r.RemoteAddr)

	// Reader goroutine: we never expect messages, but reading is what
	// detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			log.Printf("handleEvents: client disconnected: %s", r.RemoteAddr)
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case e := <-eventCh:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("handleEvents: write failed: %v", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}
