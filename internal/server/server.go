// Package server exposes the read API consumed by the dashboard and the
// idempotent engine start/stop controls. It renders nothing: pure JSON over
// the current in-memory and persisted state.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"xrparb/internal/database"
	"xrparb/internal/engine"
	"xrparb/internal/ledger"
	"xrparb/internal/model"
	"xrparb/internal/monitor"
)

// Server serves the HTTP API.
type Server struct {
	engine  *engine.Engine
	monitor *monitor.Monitor
	ledger  *ledger.Ledger
	repo    database.Repository
	logger  *slog.Logger
	http    *http.Server
	baseCtx context.Context
}

// New builds the server and its routes.
func New(addr string, eng *engine.Engine, mon *monitor.Monitor, led *ledger.Ledger,
	repo database.Repository, logger *slog.Logger) *Server {
	s := &Server{
		engine:  eng,
		monitor: mon,
		ledger:  led,
		repo:    repo,
		logger:  logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/spread", s.handleSpread)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/balances", s.handleBalances)
	mux.HandleFunc("GET /api/trades/recent", s.handleRecentTrades)
	mux.HandleFunc("GET /api/stats/today", s.handleTodayStats)
	mux.HandleFunc("GET /api/engine/status", s.handleEngineStatus)
	mux.HandleFunc("POST /api/engine/start", s.handleEngineStart)
	mux.HandleFunc("POST /api/engine/stop", s.handleEngineStop)
	mux.HandleFunc("POST /api/engine/acknowledge", s.handleEngineAcknowledge)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled. The engine keeps running across
// HTTP shutdown; its lifecycle belongs to main.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleSpread(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.monitor.LatestSpread()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no quotes yet")
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	quotes := map[string]model.Quote{}
	for _, m := range []model.Market{model.MarketUSDT, model.MarketUSDC} {
		if q, ok := s.monitor.Quote(m); ok {
			quotes[string(m)] = q
		}
	}
	writeJSON(w, quotes)
}

func (s *Server) handleBalances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ledger.Snapshot())
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	attempts, err := s.repo.RecentAttempts(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent trades query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if attempts == nil {
		attempts = []model.TradeAttempt{}
	}
	writeJSON(w, attempts)
}

func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.DayStats(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, struct {
		model.DayStats
		Volatility float64 `json:"volatility"`
	}{stats, s.monitor.MaxVolatility()})
}

type engineStatus struct {
	Running    bool               `json:"running"`
	Paused     bool               `json:"paused"`
	LastReject model.RejectReason `json:"last_reject,omitempty"`
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, engineStatus{
		Running:    s.engine.Running(),
		Paused:     s.engine.Paused(),
		LastReject: s.engine.LastReject(),
	})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, _ *http.Request) {
	s.engine.Start(s.baseCtx)
	writeJSON(w, map[string]bool{"running": s.engine.Running()})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, map[string]bool{"running": s.engine.Running()})
}

func (s *Server) handleEngineAcknowledge(w http.ResponseWriter, _ *http.Request) {
	s.engine.Acknowledge()
	writeJSON(w, map[string]bool{"paused": s.engine.Paused()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
