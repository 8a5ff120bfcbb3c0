package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/DeafMist/crypto-news-radar/internal/cluster"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const MaxWindowMinutes = 720

// AnalyzeRequest asks for multi-source confirmation of a batch of items.
// Zero window and nil threshold take the analyzer defaults.
type AnalyzeRequest struct {
	Items               []models.NewsItem `json:"items"`
	WindowMinutes       int               `json:"confirm_window_minutes,omitempty"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty"`
}

type AnalyzeResponse struct {
	Origin   string               `json:"origin"`
	Clusters []models.NewsCluster `json:"clusters"`
}

// Analyzer clusters items and stores every resulting cluster.
type Analyzer struct {
	engine        *cluster.Engine
	store         storage.Store
	log           *slog.Logger
	windowMinutes int
	threshold     float64
}

type AnalyzerOption func(*Analyzer)

// WithDefaults overrides the window and threshold used when a request omits them.
func WithDefaults(windowMinutes int, threshold float64) AnalyzerOption {
	return func(a *Analyzer) {
		a.windowMinutes = windowMinutes
		a.threshold = threshold
	}
}

func NewAnalyzer(engine *cluster.Engine, store storage.Store, logger *slog.Logger, opts ...AnalyzerOption) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Analyzer{
		engine:        engine,
		store:         store,
		log:           logger,
		windowMinutes: cluster.DefaultWindowMinutes,
		threshold:     cluster.DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze validates req, clusters its items and persists the clusters. A
// storage failure fails the whole call so that stream consumers can retry.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	window := req.WindowMinutes
	if window == 0 {
		window = a.windowMinutes
	}
	if window < 1 || window > MaxWindowMinutes {
		return AnalyzeResponse{}, fmt.Errorf("%w: confirm_window_minutes must be within 1..%d", ErrInvalidRequest, MaxWindowMinutes)
	}

	threshold := a.threshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}
	if threshold < 0 || threshold > 1 {
		return AnalyzeResponse{}, fmt.Errorf("%w: similarity_threshold must be within 0..1", ErrInvalidRequest)
	}

	if len(req.Items) == 0 {
		return AnalyzeResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, cluster.ErrNoItems)
	}

	clusters, err := a.engine.Cluster(req.Items, window, threshold)
	if err != nil {
		return AnalyzeResponse{}, err
	}

	for _, c := range clusters {
		key := storage.ClusterKey(c.FirstSeen, c.ClusterID)
		if err := storage.PutJSON(ctx, a.store, key, c, c.FirstSeen, storage.ClusterTTLDays); err != nil {
			return AnalyzeResponse{}, fmt.Errorf("store cluster %s: %w", c.ClusterID, err)
		}
	}

	a.log.Info("analyze news",
		slog.Int("items", len(req.Items)),
		slog.Int("clusters", len(clusters)),
	)
	return AnalyzeResponse{Origin: Origin, Clusters: clusters}, nil
}
