// Package httpapi serves saved backtest runs over HTTP and accepts new
// backtest requests.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"quantlab/internal/backtest"
	"quantlab/internal/gather"
	"quantlab/internal/store"
)

// Runner executes one backtest.
type Runner interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Result, error)
}

// Server exposes the result store. runner may be nil for a read-only API.
type Server struct {
	results    store.ResultStore
	artifacts  store.ArtifactStore
	runner     Runner
	strategies []string
	log        *slog.Logger
}

// NewServer creates a Server.
func NewServer(results store.ResultStore, artifacts store.ArtifactStore, runner Runner, strategies []string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		results:    results,
		artifacts:  artifacts,
		runner:     runner,
		strategies: strategies,
		log:        log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/runs/{id}/equity", s.handleEquity)
	mux.HandleFunc("POST /api/backtests", s.handleBacktest)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps a store failure onto a status code.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.log.Error("store request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// runID returns the {id} path value in canonical form. Run ids are UUIDs and
// name files under the artifact store, so anything else is refused.
func runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return "", false
	}
	return id.String(), true
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.strategies)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RunFilter{Strategy: q.Get("strategy"), Symbol: q.Get("symbol"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	runs, err := s.results.ListRuns(r.Context(), f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]RunSummary, len(runs))
	for i, run := range runs {
		out[i] = toSummary(run)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetRun returns the stored result payload verbatim.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	rec, err := s.results.GetRun(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if len(rec.Payload) == 0 {
		writeJSON(w, http.StatusOK, toSummary(*rec))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(rec.Payload) //nolint:errcheck
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if _, err := s.results.GetRun(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	trades, err := s.results.ListTrades(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if s.artifacts == nil {
		writeError(w, http.StatusNotFound, "equity curves are not stored")
		return
	}
	curve, err := s.artifacts.ReadEquity(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusMethodNotAllowed, "backtests are disabled on this server")
		return
	}
	var body BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Strategy == "" || body.Symbol == "" || body.Start == "" {
		writeError(w, http.StatusBadRequest, "strategy, symbol and start are required")
		return
	}
	rng, err := gather.ParseDateRange(body.Start, body.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.runner.Run(r.Context(), backtest.Request{
		Strategy: body.Strategy,
		Symbol:   body.Symbol,
		Start:    rng.Start,
		End:      rng.End,
		Params:   body.Params,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusCreated
	if res.Failed() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}
