package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/market"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/retention"
	"github.com/DeafMist/crypto-news-radar/internal/security"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const version = "1.0.0"

type newsIngester interface {
	Run(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error)
}

type newsAnalyzer interface {
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (pipeline.AnalyzeResponse, error)
}

type marketFetcher interface {
	Fetch(ctx context.Context, req market.Request) (market.Response, error)
}

type sweeper interface {
	Sweep(ctx context.Context, dryRun bool) (retention.Result, error)
}

// healthChecker is implemented by backends that can report their own state.
type healthChecker interface {
	Health(ctx context.Context) error
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	store    storage.Store
	ingester newsIngester
	analyzer newsAnalyzer
	market   marketFetcher
	sweeper  sweeper
	now      func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
	Version string    `json:"version"`
}

type storageListResponse struct {
	Prefix string   `json:"prefix"`
	Keys   []string `json:"keys"`
}

type cleanupRequest struct {
	DryRun bool `json:"dry_run"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.CORS(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/storage", s.handleStorageList)

	r.Group(func(r chi.Router) {
		r.Use(security.RequireSignature(s.cfg.SharedSecret))
		r.Post("/news/fetch", s.handleNewsFetch)
		r.Post("/news/analyze", s.handleNewsAnalyze)
		r.Post("/market/fetch", s.handleMarketFetch)
		r.Post("/admin/cleanup", s.handleCleanup)
	})
	return r
}

// requestID keeps a caller supplied X-Request-ID or mints one, and exposes it
// through chi's middleware.GetReqID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(security.RequestIDHeader)
		if id == "" {
			id = "req-" + uuid.NewString()
		}
		w.Header().Set(security.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hc, ok := s.store.(healthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: s.now().UTC(), Version: version})
}

func (s *server) handleStorageList(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prefix query parameter is required"})
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	keys, err := s.store.List(ctx, prefix, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, storageListResponse{Prefix: prefix, Keys: keys})
}

func (s *server) handleNewsFetch(w http.ResponseWriter, r *http.Request) {
	var req pipeline.FetchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	resp, err := s.ingester.Run(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleNewsAnalyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("analyze news",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("clusters", len(resp.Clusters)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleMarketFetch(w http.ResponseWriter, r *http.Request) {
	var req market.Request
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	resp, err := s.market.Fetch(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	res, err := s.sweeper.Sweep(ctx, req.DryRun)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeBody reads a JSON object into out. An empty body decodes as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, sources.ErrUnsupportedSource),
		errors.Is(err, cluster.ErrNoItems),
		errors.Is(err, market.ErrInvalidRequest),
		errors.Is(err, market.ErrUnsupportedExchange),
		errors.Is(err, market.ErrMissingAPIKey):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("handler error",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("err", err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return storage.NormalizeLimit(0), nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return storage.NormalizeLimit(value), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
