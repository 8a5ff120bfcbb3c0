// Package pipeline runs news ingestion and analysis on top of the sources,
// dedupe, rate limit, cluster and storage packages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/crypto-news-radar/internal/dedupe"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

// Origin tags every item and cluster produced by this service.
const Origin = "crypto-news-radar"

const (
	DefaultMaxPerSource = 50
	MaxPerSourceLimit   = 200
	DefaultConcurrency  = 4
	minSourceNameLen    = 3
	language            = "en"
)

var ErrInvalidRequest = errors.New("invalid request")

// FetchRequest selects the sources of one ingestion run.
type FetchRequest struct {
	Sources      []string   `json:"sources"`
	Since        *time.Time `json:"since,omitempty"`
	MaxPerSource int        `json:"max_per_source,omitempty"`
}

type FetchResponse struct {
	Origin string            `json:"origin"`
	Items  []models.NewsItem `json:"items"`
}

type FeedReader interface {
	Read(ctx context.Context, feedURL string, limit int) ([]models.FeedEntry, error)
}

type ArticleFetcher interface {
	Fetch(ctx context.Context, def sources.Definition, pageURL string) (models.Article, error)
}

type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// HostLimiter is the non-blocking politeness gate, keyed by registered domain.
type HostLimiter interface {
	Allow(key string) bool
}

// Ingester turns source feeds into deduplicated, stored news items. Feeds and
// articles are fetched in parallel across sources; dedupe runs afterwards on
// the calling goroutine, in request order.
type Ingester struct {
	registry    *sources.Registry
	feeds       FeedReader
	articles    ArticleFetcher
	robots      RobotsChecker
	limiter     HostLimiter
	store       storage.Store
	log         *slog.Logger
	concurrency int
	now         func() time.Time
}

type IngesterOption func(*Ingester)

func WithConcurrency(n int) IngesterOption {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

func WithIngestClock(now func() time.Time) IngesterOption {
	return func(i *Ingester) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIngester(
	registry *sources.Registry,
	feeds FeedReader,
	articles ArticleFetcher,
	robots RobotsChecker,
	limiter HostLimiter,
	store storage.Store,
	logger *slog.Logger,
	opts ...IngesterOption,
) *Ingester {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	i := &Ingester{
		registry:    registry,
		feeds:       feeds,
		articles:    articles,
		robots:      robots,
		limiter:     limiter,
		store:       store,
		log:         logger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type sourceBatch struct {
	def     sources.Definition
	entries int
	items   []models.NewsItem
}

// Run executes one ingestion run. Each call uses a fresh dedupe index.
func (i *Ingester) Run(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	defs, perSource, err := i.validate(req)
	if err != nil {
		return FetchResponse{}, err
	}

	log := i.log.With(slog.String("run_id", uuid.NewString()))
	batches := make([]sourceBatch, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, def := range defs {
		g.Go(func() error {
			batches[n] = i.collect(gctx, log, def, req.Since, perSource)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return FetchResponse{}, err
	}

	index := dedupe.NewIndex()
	collected := make([]models.NewsItem, 0)
	// accepted titles across the whole run, in acceptance order
	var titles []string
	for _, batch := range batches {
		source := string(batch.def.Name)
		kept := 0
		for _, item := range batch.items {
			if ok, _ := index.Add(item.URL, item.ContentText, item.Title); !ok {
				log.Debug("dedupe skip", slog.String("source", source), slog.String("url", item.URL))
				continue
			}
			if dedupe.NearDuplicate(item.Title, titles, dedupe.DefaultNearDuplicateThreshold) {
				log.Debug("near duplicate skip", slog.String("source", source), slog.String("title", item.Title))
				continue
			}
			titles = append(titles, item.Title)
			collected = append(collected, item)
			kept++
			i.persist(ctx, log, item)
		}
		log.Info("news fetch stats",
			slog.String("source", source),
			slog.Int("entries", batch.entries),
			slog.Int("kept", kept),
		)
	}

	return FetchResponse{Origin: Origin, Items: collected}, nil
}

func (i *Ingester) validate(req FetchRequest) ([]sources.Definition, int, error) {
	perSource := req.MaxPerSource
	if perSource == 0 {
		perSource = DefaultMaxPerSource
	}
	if perSource < 1 || perSource > MaxPerSourceLimit {
		return nil, 0, fmt.Errorf("%w: max_per_source must be within 1..%d", ErrInvalidRequest, MaxPerSourceLimit)
	}

	defs := make([]sources.Definition, 0, len(req.Sources))
	for _, name := range req.Sources {
		if len(strings.TrimSpace(name)) < minSourceNameLen {
			return nil, 0, fmt.Errorf("%w: source name %q is too short", ErrInvalidRequest, name)
		}
		def, err := i.registry.Resolve(name)
		if err != nil {
			return nil, 0, err
		}
		defs = append(defs, def)
	}
	return defs, perSource, nil
}

// collect reads one source feed and builds candidate items. Failures are
// logged and only shrink the batch.
func (i *Ingester) collect(ctx context.Context, log *slog.Logger, def sources.Definition, since *time.Time, perSource int) sourceBatch {
	source := string(def.Name)
	batch := sourceBatch{def: def}

	log.Info("news fetch source", slog.String("source", source), slog.String("feed", def.FeedURL))
	entries, err := i.feeds.Read(ctx, def.FeedURL, perSource)
	if err != nil {
		log.Warn("read feed", slog.String("source", source), slog.Any("err", err))
		return batch
	}
	batch.entries = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return batch
		}
		item, ok := i.buildItem(ctx, log, def, entry, since)
		if ok {
			batch.items = append(batch.items, item)
		}
	}
	return batch
}

func (i *Ingester) buildItem(ctx context.Context, log *slog.Logger, def sources.Definition, entry models.FeedEntry, since *time.Time) (models.NewsItem, bool) {
	source := string(def.Name)
	link := strings.TrimSpace(entry.Link)
	if link == "" {
		return models.NewsItem{}, false
	}
	if since != nil && entry.PublishedAt != nil && entry.PublishedAt.Before(*since) {
		return models.NewsItem{}, false
	}

	canonical := processing.CanonicalizeURL(link)
	if !i.robots.Allowed(ctx, link) {
		log.Info("robots block", slog.String("source", source), slog.String("url", link))
		return models.NewsItem{}, false
	}
	if !i.limiter.Allow(processing.DomainFromURL(link)) {
		log.Info("rate limit skip", slog.String("source", source), slog.String("url", link))
		return models.NewsItem{}, false
	}

	article, err := i.articles.Fetch(ctx, def, link)
	if err != nil {
		log.Warn("fetch article", slog.String("source", source), slog.String("url", link), slog.Any("err", err))
		return models.NewsItem{}, false
	}

	now := i.now().UTC()
	published := now
	switch {
	case entry.PublishedAt != nil:
		published = *entry.PublishedAt
	case article.PublishedAt != nil:
		published = *article.PublishedAt
	}
	if since != nil && published.Before(*since) {
		return models.NewsItem{}, false
	}

	title := firstNonEmpty(article.Title, entry.Title, canonical)
	id := processing.DeterministicHash(source, canonical, title)

	return models.NewsItem{
		ID:           id,
		Origin:       Origin,
		Source:       source,
		URL:          canonical,
		Title:        title,
		Summary:      firstNonEmpty(article.Summary, entry.Summary),
		PublishedAt:  published,
		FetchedAt:    now,
		ContentText:  article.Content,
		Language:     language,
		Hash:         id,
		SourceWeight: def.Weight,
	}, true
}

func (i *Ingester) persist(ctx context.Context, log *slog.Logger, item models.NewsItem) {
	key := storage.NewsKey(item.Source, item.FetchedAt, item.ID)
	if err := storage.PutJSON(ctx, i.store, key, item, item.FetchedAt, storage.DefaultTTLDays); err != nil {
		log.Warn("store news item", slog.String("key", key), slog.Any("err", err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
