// Package dashboard serves a small read-only HTTP status API for
// monitoring the engine during the trading day.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/quotes"
	"github.com/astrarise/nifty-options-bot/internal/storage"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
)

// Server exposes engine state over HTTP. All endpoints are read-only.
type Server struct {
	tracker *tracker.Tracker
	ledger  *ledger.Ledger
	cache   *quotes.Cache
	store   storage.Store
	logger  *logrus.Logger
	srv     *http.Server
}

// NewServer creates a dashboard server listening on port.
func NewServer(port int, tr *tracker.Tracker, lg *ledger.Ledger,
	cache *quotes.Cache, store storage.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{tracker: tr, ledger: lg, cache: cache, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handlePositions)
		r.Get("/ledger", s.handleLedger)
		r.Get("/history", s.handleHistory)
		r.Get("/quotes", s.handleQuotes)
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.WithField("addr", s.srv.Addr).Info("dashboard listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("dashboard response encode failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"positions": s.tracker.Count(),
		"time":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": s.tracker.SnapshotAll(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	state := s.ledger.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":           state.Day,
		"entries_today": s.ledger.CountToday(time.Now()),
		"entries":       state.Entries,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	data, err := s.store.Load()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": data.History})
}

func (s *Server) handleQuotes(w http.ResponseWriter, _ *http.Request) {
	age := s.cache.Age()
	resp := map[string]interface{}{
		"strikes": s.cache.StrikeCount(),
	}
	if age >= 0 {
		resp["age_seconds"] = int(age.Seconds())
	} else {
		resp["age_seconds"] = nil
	}
	s.writeJSON(w, http.StatusOK, resp)
}
