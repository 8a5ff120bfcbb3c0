package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*storage.Memory
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func item(source, title string, at time.Time) models.NewsItem {
	url := "https://" + source + ".example/" + processing.DeterministicHash(title)[:8]
	id := processing.DeterministicHash(source, url, title)
	return models.NewsItem{ID: id, Hash: id, Source: source, URL: url, Title: title, PublishedAt: at, FetchedAt: at}
}

func newEngine() *cluster.Engine {
	return cluster.New(
		cluster.WithOrigin(pipeline.Origin),
		cluster.WithClock(func() time.Time { return now }),
	)
}

func TestAnalyzeStoresClusters(t *testing.T) {
	store := storage.NewMemory()
	a := pipeline.NewAnalyzer(newEngine(), store, nil)

	resp, err := a.Analyze(context.Background(), pipeline.AnalyzeRequest{
		Items: []models.NewsItem{
			item("coindesk", "SEC approves BTC ETF", t0),
			item("theblock", "BTC ETF approved by SEC", t0.Add(3*time.Minute)),
			item("decrypt", "Solana validators ship upgrade", t0.Add(10*time.Minute)),
		},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.Origin, resp.Origin)
	require.Len(t, resp.Clusters, 2)

	c := resp.Clusters[0]
	require.Equal(t, 2, c.SourceCount)
	require.Equal(t, pipeline.Origin, c.Origin)

	var stored map[string]any
	require.NoError(t, storage.GetJSON(context.Background(), store, storage.ClusterKey(c.FirstSeen, c.ClusterID), &stored))
	require.Equal(t, "2024-03-01T10:00:00Z", stored["created_at"])
	require.Equal(t, 30.0, stored["ttl_days"])
	require.Equal(t, c.CanonicalTitle, stored["canonical_title"])
	require.Equal(t, 2, store.Len())
}

func TestAnalyzeExplicitThreshold(t *testing.T) {
	a := pipeline.NewAnalyzer(newEngine(), storage.NewMemory(), nil)
	strict := 1.0

	resp, err := a.Analyze(context.Background(), pipeline.AnalyzeRequest{
		Items: []models.NewsItem{
			item("coindesk", "SEC approves BTC ETF", t0),
			item("theblock", "BTC ETF approved by SEC", t0.Add(3*time.Minute)),
		},
		WindowMinutes:       60,
		SimilarityThreshold: &strict,
	})
	require.NoError(t, err)
	require.Len(t, resp.Clusters, 2)
}

func TestAnalyzeValidation(t *testing.T) {
	a := pipeline.NewAnalyzer(newEngine(), storage.NewMemory(), nil)
	items := []models.NewsItem{item("coindesk", "SEC approves BTC ETF", t0)}
	tooHigh := 1.5
	negative := -0.1

	tests := []struct {
		name string
		req  pipeline.AnalyzeRequest
	}{
		{name: "window too wide", req: pipeline.AnalyzeRequest{Items: items, WindowMinutes: 721}},
		{name: "negative window", req: pipeline.AnalyzeRequest{Items: items, WindowMinutes: -5}},
		{name: "threshold above one", req: pipeline.AnalyzeRequest{Items: items, SimilarityThreshold: &tooHigh}},
		{name: "negative threshold", req: pipeline.AnalyzeRequest{Items: items, SimilarityThreshold: &negative}},
		{name: "no items", req: pipeline.AnalyzeRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(context.Background(), tt.req)
			require.ErrorIs(t, err, pipeline.ErrInvalidRequest)
		})
	}

	_, err := a.Analyze(context.Background(), pipeline.AnalyzeRequest{})
	require.ErrorIs(t, err, cluster.ErrNoItems)
}

func TestAnalyzeStorageFailure(t *testing.T) {
	a := pipeline.NewAnalyzer(newEngine(), failingStore{storage.NewMemory()}, nil)
	_, err := a.Analyze(context.Background(), pipeline.AnalyzeRequest{
		Items: []models.NewsItem{item("coindesk", "SEC approves BTC ETF", t0)},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, pipeline.ErrInvalidRequest)
}
