package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/backends"
	"github.com/DeafMist/crypto-news-radar/internal/broker"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/logger"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/ratelimit"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
)

type newsIngester interface {
	Run(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error)
}

type newsPublisher interface {
	Publish(ctx context.Context, items []models.NewsItem) error
}

func main() {
	log := logger.New("ingest")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadIngest()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, closeStore, err := backends.Open(ctx, cfg.Common, log)
	if err != nil {
		log.Error("open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore(context.Background())

	registry := sources.NewRegistry()
	if cfg.SourcesFile != "" {
		if err := registry.LoadFile(cfg.SourcesFile); err != nil {
			log.Error("load sources", slog.Any("err", err))
			os.Exit(1)
		}
	}

	client := httpclient.New(cfg.HTTPTimeout, cfg.UserAgent, cfg.HTTPRetries, log)
	ingester := pipeline.NewIngester(
		registry,
		sources.NewFeedReader(client),
		sources.NewArticleFetcher(client),
		sources.NewRobotsPolicy(client, log),
		ratelimit.New(cfg.RateLimitQPS, cfg.RateLimitBurst),
		store,
		log,
		pipeline.WithConcurrency(cfg.Concurrency),
	)

	publisher := broker.NewPublisher(broker.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), log)
	defer publisher.Close()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("ingest job running",
		slog.Duration("interval", cfg.Interval),
		slog.Any("sources", cfg.Sources),
		slog.String("topic", cfg.KafkaTopic),
	)

	runOnce(ctx, log, ingester, publisher, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, ingester, publisher, cfg)
		}
	}
}

// runOnce fetches every configured source and hands the items to Kafka.
// Failures are logged; the next tick tries again.
func runOnce(ctx context.Context, log *slog.Logger, ing newsIngester, pub newsPublisher, cfg *config.Ingest) int {
	subCtx, cancel := context.WithTimeout(ctx, cfg.Interval)
	defer cancel()

	resp, err := ing.Run(subCtx, pipeline.FetchRequest{
		Sources:      cfg.Sources,
		MaxPerSource: cfg.MaxPerSource,
	})
	if err != nil {
		log.Warn("ingest run failed (will retry on next interval)", slog.Any("err", err))
		return 0
	}
	if len(resp.Items) == 0 {
		log.Debug("ingest run completed, nothing new")
		return 0
	}

	if err := pub.Publish(subCtx, resp.Items); err != nil {
		log.Error("publish news", slog.Any("err", err), slog.Int("items", len(resp.Items)))
		return 0
	}
	log.Info("ingest run completed", slog.Int("published", len(resp.Items)))
	return len(resp.Items)
}
