// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the funnel and the run history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/funnel"
	"github.com/pdiddy/litfunnel/internal/history"
	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/internal/metrics"
	"github.com/pdiddy/litfunnel/internal/rank"
	"github.com/pdiddy/litfunnel/internal/report"
	"github.com/pdiddy/litfunnel/internal/search"
	"github.com/pdiddy/litfunnel/pkg/types"
)

const maxRequestBytes = 1 << 20

// Searcher runs the funnel.
type Searcher interface {
	Run(ctx context.Context, abstract string, opts funnel.RunOptions) (types.RankingResult, error)
}

// History reads and deletes stored runs.
type History interface {
	List(ctx context.Context, match string, limit int) ([]history.RunSummary, error)
	Get(ctx context.Context, id int64) (history.Run, error)
	Delete(ctx context.Context, id int64) error
}

// Server holds the HTTP handlers.
type Server struct {
	searcher Searcher
	history  History
	logger   *zap.Logger
}

// New creates a Server. A nil history disables the history routes.
func New(searcher Searcher, hist History, log *zap.Logger) *Server {
	return &Server{
		searcher: searcher,
		history:  hist,
		logger:   logger.OrNop(log),
	}
}

// Handler returns the routed handler with recovery, request IDs, request
// logging, and metrics applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/history", s.handleHistoryList)
		r.Get("/history/{id}", s.handleHistoryGet)
		r.Delete("/history/{id}", s.handleHistoryDelete)
	})
	return r
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Abstract         string   `json:"abstract"`
	MaxPapers        int      `json:"max_papers,omitempty"`
	TitleSearchLimit int      `json:"title_search_limit,omitempty"`
	Sources          []string `json:"sources,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	req.Abstract = strings.TrimSpace(req.Abstract)
	if req.Abstract == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "abstract is required")
		return
	}
	if req.MaxPapers < 0 || req.TitleSearchLimit < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "limits must not be negative")
		return
	}

	opts := funnel.RunOptions{
		MaxPapers:        req.MaxPapers,
		TitleSearchLimit: req.TitleSearchLimit,
	}
	for _, src := range req.Sources {
		opts.Sources = append(opts.Sources, types.SourceID(strings.TrimSpace(src)))
	}

	res, err := s.searcher.Run(r.Context(), req.Abstract, opts)
	switch {
	case errors.Is(err, search.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, "unknown_source", err.Error())
		return
	case errors.Is(err, rank.ErrEmbedding):
		logger.FromContext(r.Context(), s.logger).Error("search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "embedding_unavailable", "similarity ranking is unavailable")
		return
	case err != nil:
		logger.FromContext(r.Context(), s.logger).Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(res))
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "run history is disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.history.List(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Error("listing history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "listing history failed")
		return
	}
	if runs == nil {
		runs = []history.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.historyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         run.ID,
		"created_at": run.CreatedAt.Format(time.RFC3339),
		"abstract":   run.Abstract,
		"result":     report.Summarize(run.Result),
	})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	if err := s.history.Delete(r.Context(), id); err != nil {
		s.historyError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "run history is disabled")
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "run id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) historyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	logger.FromContext(r.Context(), s.logger).Error("history request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "history request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}
