package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/backends"
	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/logger"
	"github.com/DeafMist/crypto-news-radar/internal/market"
	"github.com/DeafMist/crypto-news-radar/internal/pipeline"
	"github.com/DeafMist/crypto-news-radar/internal/ratelimit"
	"github.com/DeafMist/crypto-news-radar/internal/retention"
	"github.com/DeafMist/crypto-news-radar/internal/sources"
)

func main() {
	log := logger.New("api")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadAPI()
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
	)
	engine := cluster.New(cluster.WithWeights(registry), cluster.WithOrigin(pipeline.Origin))

	srv := &server{
		log:      log,
		cfg:      cfg,
		store:    store,
		ingester: ingester,
		analyzer: pipeline.NewAnalyzer(engine, store, log, pipeline.WithDefaults(cfg.WindowMinutes, cfg.SimilarityThreshold)),
		market:   market.NewService(store, log, market.DefaultFetchers(client, cfg.CMCAPIKey)),
		sweeper:  retention.New(store, log),
		now:      time.Now,
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      3 * time.Minute,
	}

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("storage", cfg.StorageBackend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
