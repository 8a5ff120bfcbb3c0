package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/backends"
	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/logger"
	"github.com/DeafMist/crypto-news-radar/internal/retention"
)

type sweeper interface {
	Sweep(ctx context.Context, dryRun bool) (retention.Result, error)
}

func main() {
	log := logger.New("retention")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// backends.Open retries Elasticsearch with backoff before giving up.
	store, closeStore, err := backends.Open(ctx, cfg.Common, log)
	if err != nil {
		log.Error("open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore(context.Background())

	s := retention.New(store, log, retention.WithScanLimit(cfg.ScanLimit))

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Int("scan_limit", cfg.ScanLimit),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("storage", cfg.StorageBackend),
	)

	runOnce(ctx, log, s, cfg.DryRun)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, s, cfg.DryRun)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, s sweeper, dryRun bool) (retention.Result, bool) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := s.Sweep(subCtx, dryRun)
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return res, false
	}

	if len(res.DeletedKeys) > 0 {
		log.Info("retention run completed",
			slog.Int("deleted", len(res.DeletedKeys)),
			slog.Int("kept", res.Kept),
		)
	} else {
		log.Debug("retention run completed, no expired records found")
	}
	return res, true
}
