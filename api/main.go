package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/cli"
	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/dedupe"
	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/logger"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/store"
)

const (
	defaultTrendRows = 500
	maxTrendRows     = 5000
	defaultTrendSpan = 24 * time.Hour
)

type searcher interface {
	SearchContent(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

type reports interface {
	Ping(ctx context.Context) error
	ListTrends(ctx context.Context, f store.TrendFilter) ([]models.KeywordTrendBucket, error)
	ListIssues(ctx context.Context, status models.IssueStatus, limit int) ([]models.EmergingIssue, error)
}

type dedupRunner interface {
	Run(ctx context.Context, opts dedupe.RunOptions) (dedupe.Result, error)
}

func main() {
	envLoader := cli.AddEnvFlag(flag.CommandLine, ".env")
	flag.Parse()

	log := logger.New("api")
	if _, err := envLoader.Load(); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	}

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.DatabaseDriver,
		DSN:         cfg.DatabaseURL,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init elasticsearch")
	}

	detector := dedupe.New(db, nil, dedupe.Options{
		MaxCandidates: cfg.MaxCandidates,
		StoreTimeout:  cfg.StoreTimeout,
	}, log)

	srv := &server{log: log, cfg: cfg, es: esClient, db: db, dedup: detector, now: time.Now}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The dedup preview scans the whole window.
		WriteTimeout:      2 * time.Minute,
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("api server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

type server struct {
	log   zerolog.Logger
	cfg   *config.API
	es    searcher
	db    reports
	dedup dedupRunner
	now   func() time.Time
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/content", s.handleSearch)
	r.Get("/trends", s.handleTrends)
	r.Get("/issues", s.handleIssues)
	r.Post("/dedup/preview", s.handleDedupPreview)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database: " + err.Error()})
		return
	}
	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "elasticsearch: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:       strings.TrimSpace(q.Get("q")),
		Keywords:    parseCSV(q.Get("keywords")),
		Source:      strings.TrimSpace(q.Get("source")),
		Category:    strings.TrimSpace(q.Get("category")),
		HoaxSuspect: parseBool(q.Get("hoax_suspect")),
		From:        clampInt(q.Get("from"), 0, 10_000),
		Size:        clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:        strings.TrimSpace(q.Get("sort")),
		Start:       parseTime(q.Get("start")),
		End:         parseTime(q.Get("end")),
	}

	result, err := s.es.SearchContent(ctx, params)
	if err != nil {
		s.log.Error().Err(err).Msg("search content")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleTrends(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	q := r.URL.Query()
	since := s.now().Add(-defaultTrendSpan)
	if ts := parseTime(q.Get("since")); ts != nil {
		since = *ts
	}

	trends, err := s.db.ListTrends(ctx, store.TrendFilter{
		Keyword: strings.TrimSpace(q.Get("keyword")),
		Since:   since,
		Limit:   clampInt(q.Get("limit"), defaultTrendRows, maxTrendRows),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("list trends")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": trends, "since": since.UTC()})
}

func (s *server) handleIssues(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	q := r.URL.Query()
	status := models.IssueStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))
	switch status {
	case "", models.IssueActive, models.IssueResolved:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be active or resolved"})
		return
	}

	issues, err := s.db.ListIssues(ctx, status, clampInt(q.Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage))
	if err != nil {
		s.log.Error().Err(err).Msg("list issues")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": issues})
}

// handleDedupPreview reports what a maintenance run would delete without
// touching the store.
func (s *server) handleDedupPreview(w http.ResponseWriter, r *http.Request) {
	threshold := s.cfg.DedupThreshold
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "threshold must be a number"})
			return
		}
		threshold = v
	}

	result, err := s.dedup.Run(r.Context(), dedupe.RunOptions{
		Threshold: threshold,
		DryRun:    true,
		Since:     s.now().Add(-s.cfg.DedupWindow),
	})
	switch {
	case errors.Is(err, failure.ErrConfig):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.log.Error().Err(err).Msg("dedup preview")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseBool(raw string) *bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
