// Package httpserver exposes the ingestion and KPI engine over HTTP.
package httpserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/config"
	"github.com/vantedge/ads-kpi/internal/ingest"
	"github.com/vantedge/ads-kpi/internal/kpi"
	"github.com/vantedge/ads-kpi/internal/metrics"
	"github.com/vantedge/ads-kpi/internal/nlq"
	"github.com/vantedge/ads-kpi/internal/render"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Engine     *kpi.Engine
	Pipeline   *ingest.Pipeline
	Summarizer nlq.Summarizer
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps the HTTP handlers for the ads-kpi API.
type Server struct {
	engine     *kpi.Engine
	pipeline   *ingest.Pipeline
	summarizer nlq.Summarizer
	config     *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		engine:     deps.Engine,
		pipeline:   deps.Pipeline,
		summarizer: deps.Summarizer,
		config:     deps.Config,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/load", s.handleLoad)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ask", s.handleAsk)
	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// ---- Ingestion ----

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.pipeline.Run(r.Context())
	if err != nil {
		s.logger.Error("ingestion run failed", zap.Error(err))
		s.jsonResponse(w, map[string]string{
			"status": "error",
			"detail": err.Error(),
		}, http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]any{
		"status":   "ok",
		"run_id":   result.RunID,
		"inserted": result.Inserted,
		"files":    result.Files,
	}, http.StatusOK)
}

// ---- KPI reports ----

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = kpi.ModeCompare
	}

	var (
		report any
		err    error
	)
	switch mode {
	case kpi.ModeCompare:
		report, err = s.engine.Compare(r.Context())
	case kpi.ModeSingle:
		report, err = s.engine.Single(r.Context(), q.Get("start"), q.Get("end"), q.Get("group_by"))
	default:
		s.errorResponse(w, "mode must be 'compare' or 'single'", http.StatusBadRequest)
		return
	}

	if err != nil {
		if kpi.IsBadRequest(err) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("metrics query failed", zap.String("mode", mode), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, report, http.StatusOK)
}

// ---- Natural-language questions ----

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		s.errorResponse(w, "question is required", http.StatusBadRequest)
		return
	}

	if !nlq.WantsCompare(req.Question) {
		s.countAsk("false")
		s.jsonResponse(w, map[string]any{
			"matched_intent": false,
			"message":        "Ask about CAC and ROAS comparing the last 30 days vs the prior 30 days.",
		}, http.StatusOK)
		return
	}
	s.countAsk("true")

	report, err := s.engine.Compare(r.Context())
	if err != nil {
		s.logger.Error("compare query failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	anchor := ""
	if report.Meta.AnchorDate != nil {
		anchor = *report.Meta.AnchorDate
	}
	table := render.Markdown(render.CompareTable(report))
	system, user := nlq.BuildPrompts(req.Question, anchor, table)

	var answer *string
	if s.summarizer != nil {
		text, err := s.summarizer.Summarize(r.Context(), system, user)
		if err != nil {
			s.logger.Error("summarizer failed", zap.Error(err))
			s.errorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		answer = &text
	}

	s.jsonResponse(w, map[string]any{
		"matched_intent": true,
		"meta": map[string]any{
			"mode":         kpi.ModeCompare,
			"anchor_date":  report.Meta.AnchorDate,
			"openai_model": s.config.Summarizer.Model,
			"temperature":  s.config.Summarizer.Temperature,
		},
		"prompt_preview": map[string]string{
			"system": system,
			"user":   user,
		},
		"answer": answer,
		"data":   report.Data,
	}, http.StatusOK)
}

func (s *Server) countAsk(matched string) {
	if s.metrics != nil {
		s.metrics.AskRequests.WithLabelValues(matched).Inc()
	}
}

// ---- Response helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
