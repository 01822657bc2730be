// Package server is the HTTP capture surface: one POST endpoint per capture
// kind, health and status endpoints, and a websocket feed of processing-run
// lifecycle events.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/pipeline"
)

// Ingestor dispatches a raw capture to its pipeline. Satisfied by
// *pipeline.Registry.
type Ingestor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// Enqueuer is the slice of the task queues the capture surface needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any) (string, error)
	Depths(ctx context.Context) (map[string]int64, error)
}

// BudgetChecker reports spend against a period budget. Satisfied by
// *costledger.Ledger.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, period costledger.Period, limitUSD float64) (*costledger.BudgetStatus, error)
}

// ConceptDeduper runs the graph store's batch concept merge.
type ConceptDeduper interface {
	DedupConcepts(ctx context.Context) (int, error)
}

// Server wires the capture handlers, the status endpoints, and the websocket
// hub onto one mux.
type Server struct {
	cfg    *config.Config
	ingest Ingestor
	queues Enqueuer
	budget BudgetChecker
	hub    *Hub

	// Deduper, when set, backs the concept-dedup maintenance endpoint.
	Deduper ConceptDeduper
}

// New builds a Server. budget may be nil when budget checks are disabled.
func New(cfg *config.Config, ingest Ingestor, queues Enqueuer, budget BudgetChecker) *Server {
	return &Server{
		cfg:    cfg,
		ingest: ingest,
		queues: queues,
		budget: budget,
		hub:    NewHub(),
	}
}

// Hub exposes the websocket hub for wiring run-completion broadcasts.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for kind := range captureKinds {
		mux.HandleFunc("/capture/"+kind, s.handleCapture(kind))
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/maintenance/dedup-concepts", s.handleDedupConcepts)
	mux.Handle("/ws/status", s.hub)
	return securityHeaders(mux)
}

// Start listens and serves until ctx is canceled, then shuts down
// gracefully. Returns the actual listen address, useful with port 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		s.hub.Stop()
	}()

	return listener.Addr().String(), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleStatus reports queue depths and the month's budget state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := map[string]any{"status": "ok"}

	depths, err := s.queues.Depths(r.Context())
	if err != nil {
		log.Printf("server: failed to read queue depths: %v", err)
		out["queues"] = map[string]int64{}
	} else {
		out["queues"] = depths
	}

	if s.budget != nil && s.cfg.Budget.MonthlyLimitUSD > 0 {
		bs, err := s.budget.CheckBudget(r.Context(), costledger.PeriodMonth, s.cfg.Budget.MonthlyLimitUSD)
		if err != nil {
			log.Printf("server: budget check failed: %v", err)
		} else {
			out["budget"] = bs
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleDedupConcepts merges duplicate concept nodes in the graph store.
func (s *Server) handleDedupConcepts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Deduper == nil {
		writeError(w, http.StatusServiceUnavailable, "graph store disabled")
		return
	}
	removed, err := s.Deduper.DedupConcepts(r.Context())
	if err != nil {
		log.Printf("server: concept dedup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "concept dedup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "merged": removed})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
