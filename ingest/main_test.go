package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
)

type stubIngester struct {
	items []models.NewsItem
	err   error
	got   pipeline.FetchRequest
}

func (s *stubIngester) Run(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	s.got = req
	return pipeline.FetchResponse{Origin: pipeline.Origin, Items: s.items}, s.err
}

type stubPublisher struct {
	published []models.NewsItem
	calls     int
	err       error
}

func (s *stubPublisher) Publish(_ context.Context, items []models.NewsItem) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, items...)
	return nil
}

func testConfig() *config.Ingest {
	return &config.Ingest{
		Sources:      []string{"coindesk", "decrypt"},
		Interval:     time.Minute,
		MaxPerSource: 20,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePublishesItems(t *testing.T) {
	ing := &stubIngester{items: []models.NewsItem{
		{ID: "a", Source: "coindesk", URL: "https://www.coindesk.com/a"},
		{ID: "b", Source: "decrypt", URL: "https://decrypt.co/b"},
	}}
	pub := &stubPublisher{}

	n := runOnce(context.Background(), discard(), ing, pub, testConfig())

	require.Equal(t, 2, n)
	require.Equal(t, []string{"coindesk", "decrypt"}, ing.got.Sources)
	require.Equal(t, 20, ing.got.MaxPerSource)
	require.Nil(t, ing.got.Since)
	require.Len(t, pub.published, 2)
}

func TestRunOnceSkipsPublishWhenNothingNew(t *testing.T) {
	pub := &stubPublisher{}
	require.Zero(t, runOnce(context.Background(), discard(), &stubIngester{}, pub, testConfig()))
	require.Zero(t, pub.calls)
}

func TestRunOnceSurvivesFailures(t *testing.T) {
	pub := &stubPublisher{}
	ing := &stubIngester{err: errors.New("registry unavailable")}
	require.Zero(t, runOnce(context.Background(), discard(), ing, pub, testConfig()))
	require.Zero(t, pub.calls)

	pub = &stubPublisher{err: errors.New("broker down")}
	ing = &stubIngester{items: []models.NewsItem{{ID: "a", Source: "coindesk", URL: "https://www.coindesk.com/a"}}}
	require.Zero(t, runOnce(context.Background(), discard(), ing, pub, testConfig()))
	require.Equal(t, 1, pub.calls)
}
