package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/market"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/retention"
	"github.com/DeafMist/crypto-news-radar/internal/security"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type stubIngester struct {
	resp pipeline.FetchResponse
	err  error
	got  pipeline.FetchRequest
}

func (s *stubIngester) Run(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	s.got = req
	return s.resp, s.err
}

type stubMarket struct{ err error }

func (s stubMarket) Fetch(context.Context, market.Request) (market.Response, error) {
	return market.Response{Origin: market.Origin, Snapshots: []models.MarketSnapshot{}}, s.err
}

func newTestServer(t *testing.T, ing *stubIngester, mkt stubMarket) (*server, *storage.Memory) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	clock := func() time.Time { return fixedNow }
	engine := cluster.New(cluster.WithOrigin(pipeline.Origin), cluster.WithClock(clock))

	return &server{
		log:      log,
		cfg:      &config.API{SharedSecret: testSecret, AllowedOrigins: []string{"https://radar.example"}},
		store:    store,
		ingester: ing,
		analyzer: pipeline.NewAnalyzer(engine, store, log),
		market:   mkt,
		sweeper:  retention.New(store, log, retention.WithClock(clock)),
		now:      clock,
	}, store
}

func signedPost(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.SignatureHeader, security.Sign([]byte(body), testSecret))
	return req
}

func serve(srv *server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Error
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(security.RequestIDHeader, "req-fixed")
	rec := serve(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-fixed", rec.Header().Get(security.RequestIDHeader))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, version, body.Version)
	require.Equal(t, fixedNow, body.Time)
}

func TestRequestIDIsMinted(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.True(t, strings.HasPrefix(rec.Header().Get(security.RequestIDHeader), "req-"))
}

func TestPostRequiresSignature(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	req := httptest.NewRequest(http.MethodPost, "/news/fetch", strings.NewReader(`{"sources":["coindesk"]}`))
	rec := serve(srv, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, security.ErrMissingSignature.Error(), decodeError(t, rec))
}

func TestForeignOriginIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	require.Equal(t, http.StatusForbidden, serve(srv, req).Code)
}

func TestNewsFetch(t *testing.T) {
	ing := &stubIngester{resp: pipeline.FetchResponse{
		Origin: pipeline.Origin,
		Items:  []models.NewsItem{{ID: "abc", Source: "coindesk", URL: "https://www.coindesk.com/a", Title: "BTC"}},
	}}
	srv, _ := newTestServer(t, ing, stubMarket{})

	rec := serve(srv, signedPost("/news/fetch", `{"sources":["coindesk"],"max_per_source":5}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"coindesk"}, ing.got.Sources)
	require.Equal(t, 5, ing.got.MaxPerSource)

	var body pipeline.FetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "unsupported source", err: fmt.Errorf("%w: %q", sources.ErrUnsupportedSource, "bloomberg"), wantStatus: http.StatusBadRequest},
		{name: "invalid request", err: fmt.Errorf("%w: max_per_source", pipeline.ErrInvalidRequest), wantStatus: http.StatusBadRequest},
		{name: "unexpected", err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubIngester{err: tt.err}, stubMarket{})
			rec := serve(srv, signedPost("/news/fetch", `{"sources":["x"]}`))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusInternalServerError {
				require.Equal(t, "internal error", decodeError(t, rec))
			}
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	rec := serve(srv, signedPost("/news/fetch", `{"sources":`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid json body", decodeError(t, rec))
}

func TestNewsAnalyze(t *testing.T) {
	srv, store := newTestServer(t, &stubIngester{}, stubMarket{})
	published := fixedNow.Add(-time.Hour)
	payload, err := json.Marshal(pipeline.AnalyzeRequest{Items: []models.NewsItem{
		{ID: "a1b2c3d4e5f6a7", Hash: "a1b2c3d4e5f6a7", Source: "coindesk", URL: "https://www.coindesk.com/a", Title: "SEC approves BTC ETF", PublishedAt: published},
		{ID: "f6e5d4c3b2a1f0", Hash: "f6e5d4c3b2a1f0", Source: "theblock", URL: "https://www.theblock.co/b", Title: "BTC ETF approved by SEC", PublishedAt: published.Add(3 * time.Minute)},
	}})
	require.NoError(t, err)

	rec := serve(srv, signedPost("/news/analyze", string(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body pipeline.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Clusters, 1)
	require.Equal(t, "cluster-a1b2c3d4e5f6", body.Clusters[0].ClusterID)
	require.Equal(t, 1, store.Len())
}

func TestNewsAnalyzeRejectsEmptyItems(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{})
	rec := serve(srv, signedPost("/news/analyze", `{"items":[]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketFetchErrors(t *testing.T) {
	srv, _ := newTestServer(t, &stubIngester{}, stubMarket{err: market.ErrMissingAPIKey})
	rec := serve(srv, signedPost("/market/fetch", `{"exchanges":["cmc"],"symbols":["BTCUSDT"],"granularity":"1h"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, market.ErrMissingAPIKey.Error(), decodeError(t, rec))
}

func TestCleanup(t *testing.T) {
	srv, store := newTestServer(t, &stubIngester{}, stubMarket{})
	ctx := context.Background()
	require.NoError(t, storage.PutJSON(ctx, store, "news/raw/coindesk/20240229/old.json", map[string]string{"id": "old"}, fixedNow.AddDate(0, 0, -20), 14))
	require.NoError(t, storage.PutJSON(ctx, store, "news/raw/coindesk/20240319/new.json", map[string]string{"id": "new"}, fixedNow.AddDate(0, 0, -1), 14))

	rec := serve(srv, signedPost("/admin/cleanup", `{"dry_run":true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var dry retention.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dry))
	require.Equal(t, []string{"news/raw/coindesk/20240229/old.json"}, dry.DeletedKeys)
	require.Equal(t, 1, dry.Kept)
	require.Equal(t, 2, store.Len())

	// an empty body means a real sweep
	rec = serve(srv, signedPost("/admin/cleanup", ``))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, store.Len())
}

func TestStorageList(t *testing.T) {
	srv, store := newTestServer(t, &stubIngester{}, stubMarket{})
	ctx := context.Background()
	for _, key := range []string{"news/raw/a/1.json", "news/raw/a/2.json", "market/x/snapshot.json"} {
		require.NoError(t, store.Put(ctx, key, []byte(`{}`)))
	}

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/storage?prefix=news/raw&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body storageListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "news/raw", body.Prefix)
	require.Equal(t, []string{"news/raw/a/1.json"}, body.Keys)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/storage?prefix=logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"prefix":"logs","keys":[]}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, serve(srv, httptest.NewRequest(http.MethodGet, "/storage", nil)).Code)
	require.Equal(t, http.StatusBadRequest, serve(srv, httptest.NewRequest(http.MethodGet, "/storage?prefix=news&limit=ten", nil)).Code)
}
