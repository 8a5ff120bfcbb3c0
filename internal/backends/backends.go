// Package backends opens the storage backend selected by STORAGE_BACKEND.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/crypto-news-radar/internal/config"
	"github.com/DeafMist/crypto-news-radar/internal/elasticsearch"
	"github.com/DeafMist/crypto-news-radar/internal/mongostore"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const esConnectAttempts = 10

// CloseFunc releases whatever the backend holds open.
type CloseFunc func(context.Context) error

func noopClose(context.Context) error { return nil }

// Open connects to the configured backend. The returned close func is never nil.
func Open(ctx context.Context, cfg config.Common, log *slog.Logger) (storage.Store, CloseFunc, error) {
	switch cfg.StorageBackend {
	case config.BackendLocal, "":
		s, err := storage.NewLocal(cfg.DataDir, log)
		if err != nil {
			return nil, noopClose, err
		}
		log.Info("using local storage", slog.String("dir", cfg.DataDir))
		return s, noopClose, nil

	case config.BackendElasticsearch:
		c, err := elasticsearch.Connect(ctx, cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, esConnectAttempts, log)
		if err != nil {
			return nil, noopClose, err
		}
		if err := c.EnsureIndex(ctx); err != nil {
			return nil, noopClose, err
		}
		log.Info("connected to elasticsearch", slog.String("index", cfg.ElasticsearchIndex))
		return c, noopClose, nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, log)
		if err != nil {
			return nil, noopClose, err
		}
		log.Info("connected to mongodb",
			slog.String("database", cfg.MongoDatabase),
			slog.String("collection", cfg.MongoCollection),
		)
		return s, s.Close, nil
	}

	return nil, noopClose, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
