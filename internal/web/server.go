package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/metrics"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
)

// Server exposes the engine's read-only API: status, open positions, trade
// history, ledger and Prometheus metrics.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	service *usecase.TradeService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewServer(port int, service *usecase.TradeService, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		service: service,
		metrics: m,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("POST /signals", s.handleSignal)
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /trades", s.handleTrades)
	s.router.HandleFunc("GET /ledger", s.handleLedger)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the route mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}

// handleSignal accepts a signal from the indicator pipeline. It is queued
// and evaluated on the next decision cycle, not traded inline.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.TradeSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "invalid signal payload", http.StatusBadRequest)
		return
	}
	if sig.Symbol == "" || sig.EntryPrice <= 0 || sig.StopLossPct <= 0 {
		http.Error(w, "signal requires symbol, entry_price and stop_loss_pct", http.StatusBadRequest)
		return
	}

	s.service.EnqueueSignal(sig)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.OpenPositions())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.service.ClosedTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("trade history query failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.LedgerState())
}
