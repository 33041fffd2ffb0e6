package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/config"
	"github.com/DeafMist/civic-radar/internal/dedupe"
	"github.com/DeafMist/civic-radar/internal/elasticsearch"
	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubSearcher struct {
	params    elasticsearch.SearchParams
	healthErr error
}

func (s *stubSearcher) SearchContent(_ context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error) {
	s.params = params
	return &elasticsearch.SearchResult{Total: 1, Items: []models.ContentDocument{{ID: "a", Title: "Banjir"}}}, nil
}

func (s *stubSearcher) Health(context.Context) error { return s.healthErr }

type stubReports struct {
	pingErr     error
	trendFilter store.TrendFilter
	status      models.IssueStatus
	limit       int
}

func (s *stubReports) Ping(context.Context) error { return s.pingErr }

func (s *stubReports) ListTrends(_ context.Context, f store.TrendFilter) ([]models.KeywordTrendBucket, error) {
	s.trendFilter = f
	return []models.KeywordTrendBucket{{Keyword: "banjir", HourBucket: now, MentionCount: 4}}, nil
}

func (s *stubReports) ListIssues(_ context.Context, status models.IssueStatus, limit int) ([]models.EmergingIssue, error) {
	s.status, s.limit = status, limit
	return []models.EmergingIssue{{Title: "Bencana terkait banjir", Status: models.IssueActive}}, nil
}

type stubDedup struct {
	opts dedupe.RunOptions
	err  error
}

func (s *stubDedup) Run(_ context.Context, opts dedupe.RunOptions) (dedupe.Result, error) {
	s.opts = opts
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		return dedupe.Result{}, fmt.Errorf("bad threshold: %w", failure.ErrConfig)
	}
	if s.err != nil {
		return dedupe.Result{}, s.err
	}
	return dedupe.Result{TotalEntries: 3, DuplicatesFound: 1, DryRun: opts.DryRun}, nil
}

func newTestServer() (*server, *stubSearcher, *stubReports, *stubDedup) {
	es, db, dd := &stubSearcher{}, &stubReports{}, &stubDedup{}
	cfg := &config.API{
		Common:         config.Common{StoreTimeout: time.Second},
		DefaultPage:    20,
		MaxPage:        100,
		DedupThreshold: 0.85,
		DedupWindow:    720 * time.Hour,
	}
	return &server{
		log:   zerolog.Nop(),
		cfg:   cfg,
		es:    es,
		db:    db,
		dedup: dd,
		now:   func() time.Time { return now },
	}, es, db, dd
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv, es, db, _ := newTestServer()
	h := srv.routes()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	db.pingErr = errors.New("down")
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health").Code)

	db.pingErr = nil
	es.healthErr = errors.New("red")
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health").Code)
}

func TestSearchParsesFilters(t *testing.T) {
	srv, es, _, _ := newTestServer()
	rec := do(t, srv.routes(), http.MethodGet,
		"/content?q=banjir&keywords=air,+hujan&category=disaster&hoax_suspect=true&size=500&from=-3&start=2024-06-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "banjir", es.params.Query)
	require.Equal(t, []string{"air", "hujan"}, es.params.Keywords)
	require.Equal(t, "disaster", es.params.Category)
	require.NotNil(t, es.params.HoaxSuspect)
	require.True(t, *es.params.HoaxSuspect)
	require.Equal(t, 100, es.params.Size)
	require.Equal(t, 0, es.params.From)
	require.NotNil(t, es.params.Start)
	require.Nil(t, es.params.End)

	var body struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 1, body.Total)
}

func TestTrendsDefaultsToLastDay(t *testing.T) {
	srv, _, db, _ := newTestServer()
	rec := do(t, srv.routes(), http.MethodGet, "/trends?keyword=Banjir")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Banjir", db.trendFilter.Keyword)
	require.True(t, now.Add(-24*time.Hour).Equal(db.trendFilter.Since))
	require.Equal(t, defaultTrendRows, db.trendFilter.Limit)
}

func TestIssuesStatusFilter(t *testing.T) {
	srv, _, db, _ := newTestServer()
	h := srv.routes()

	rec := do(t, h, http.MethodGet, "/issues?status=Active&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.IssueActive, db.status)
	require.Equal(t, 5, db.limit)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/issues?status=closed").Code)
}

func TestDedupPreviewIsDryRun(t *testing.T) {
	srv, _, _, dd := newTestServer()
	h := srv.routes()

	rec := do(t, h, http.MethodPost, "/dedup/preview?threshold=0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, dd.opts.DryRun)
	require.InDelta(t, 0.9, dd.opts.Threshold, 1e-9)
	require.True(t, now.Add(-720*time.Hour).Equal(dd.opts.Since))

	var res dedupe.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.DuplicatesFound)
	require.True(t, res.DryRun)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/dedup/preview").Code)
	require.InDelta(t, 0.85, dd.opts.Threshold, 1e-9)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/dedup/preview?threshold=abc").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/dedup/preview?threshold=1.5").Code)

	dd.err = fmt.Errorf("read: %w", failure.ErrTransientIO)
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/dedup/preview").Code)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 20, clampInt("", 20, 100))
	require.Equal(t, 20, clampInt("abc", 20, 100))
	require.Equal(t, 20, clampInt("0", 20, 100))
	require.Equal(t, 50, clampInt("50", 20, 100))
	require.Equal(t, 100, clampInt("1000", 20, 100))
}
